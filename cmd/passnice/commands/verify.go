package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"passnice/internal/outcome"
	"passnice/internal/scrapers/checkplus"

	"github.com/spf13/cobra"
)

const (
	maxSendAttempts = 3
	maxCodeAttempts = 5
)

var captchaOut string

func init() {
	verifyCmd.Flags().StringVar(
		&captchaOut,
		"captcha-out",
		filepath.Join(os.TempDir(), "passnice-captcha.png"),
		"Where to save the captcha image.",
	)
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [carrier]",
	Short: "Walks through a full sms verification interactively.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrompter(os.Stdin, os.Stderr)
		carrier, err := resolveCarrier(p, args)
		if err != nil {
			return err
		}
		v := verifier{
			prompt:     p,
			spinner:    newStepSpinner(os.Stderr),
			out:        os.Stdout,
			captchaOut: captchaOut,
		}
		return v.run(cmd.Context(), carrier)
	},
}

// resolveCarrier takes the carrier from the arguments, then the config, then
// asks for it.
func resolveCarrier(p prompter, args []string) (checkplus.Carrier, error) {
	code := env.Config.Carrier
	if len(args) > 0 {
		code = args[0]
	}
	for {
		if code == "" {
			var err error
			code, err = p.Ask("carrier (SK, KT, LG, SM, KM, LM)")
			if err != nil {
				return "", err
			}
		}
		carrier, err := checkplus.ParseCarrier(code)
		if err == nil {
			return carrier, nil
		}
		fmt.Fprintln(p.out, err)
		code = ""
	}
}

type verifier struct {
	prompt     prompter
	spinner    *stepSpinner
	out        io.Writer
	captchaOut string
}

func unitStep(fn func() (outcome.Result[outcome.Unit], error)) func() (outcome.Result[outcome.Unit], bool, error) {
	return func() (outcome.Result[outcome.Unit], bool, error) {
		res, err := fn()
		return res, res.Success, err
	}
}

func (v verifier) run(ctx context.Context, carrier checkplus.Carrier) error {
	session, cleanup, err := env.openSession(ctx, carrier)
	defer cleanup()
	if err != nil {
		return err
	}
	fmt.Fprintf(v.out, "session %s (%s)\n", session.Id, carrier.ISPHost())

	res, err := runStep(v.spinner, "opening verification page", unitStep(func() (outcome.Result[outcome.Unit], error) {
		return session.InitSession(ctx, checkplus.AUTH_TYPE_SMS)
	}))
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("init session: %s", res.Message)
	}

	identity, err := v.askIdentity()
	if err != nil {
		return err
	}
	err = v.send(ctx, session, identity)
	if err != nil {
		return err
	}
	return v.check(ctx, session)
}

func (v verifier) askIdentity() (checkplus.Identity, error) {
	for {
		var identity checkplus.Identity
		var err error
		identity.Name, err = v.prompt.Ask("name")
		if err != nil {
			return identity, err
		}
		identity.Birthdate, err = v.prompt.Ask("birthdate (YYMMDD)")
		if err != nil {
			return identity, err
		}
		identity.Gender, err = v.prompt.Ask("gender digit (1-8)")
		if err != nil {
			return identity, err
		}
		identity.Phone, err = v.prompt.Ask("phone number")
		if err != nil {
			return identity, err
		}

		err = identity.Validate()
		if err == nil {
			return identity, nil
		}
		fmt.Fprintln(v.prompt.out, err)
	}
}

func (v verifier) send(ctx context.Context, session *checkplus.Session, identity checkplus.Identity) error {
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		captcha, err := runStep(v.spinner, "fetching captcha", func() (outcome.Result[[]byte], bool, error) {
			res, err := session.RetrieveCaptcha(ctx)
			return res, res.Success, err
		})
		if err != nil {
			return err
		}
		if !captcha.Success {
			return fmt.Errorf("fetch captcha: %s", captcha.Message)
		}
		err = os.WriteFile(v.captchaOut, captcha.Data, 0644)
		if err != nil {
			return fmt.Errorf("save captcha: %w", err)
		}
		fmt.Fprintf(v.out, "captcha saved to %s\n", v.captchaOut)

		answer, err := v.prompt.Ask("captcha answer")
		if err != nil {
			return err
		}
		res, err := runStep(v.spinner, "requesting sms", unitStep(func() (outcome.Result[outcome.Unit], error) {
			return session.SendSmsVerification(ctx, identity, answer)
		}))
		var validationErr *outcome.ValidationError
		if errors.As(err, &validationErr) {
			fmt.Fprintln(v.prompt.out, err)
			continue
		}
		if err != nil {
			return err
		}
		if res.Success {
			fmt.Fprintln(v.out, res.Message)
			return nil
		}
		fmt.Fprintln(v.out, res.Message)
		if !res.Retryable() {
			return fmt.Errorf("send sms: %s", res.Message)
		}
	}
	return fmt.Errorf("sms was not sent after %d attempts", maxSendAttempts)
}

func (v verifier) check(ctx context.Context, session *checkplus.Session) error {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := v.prompt.Ask("sms code")
		if err != nil {
			return err
		}
		res, err := runStep(v.spinner, "confirming code", unitStep(func() (outcome.Result[outcome.Unit], error) {
			return session.CheckSmsVerification(ctx, code)
		}))
		var validationErr *outcome.ValidationError
		if errors.As(err, &validationErr) {
			fmt.Fprintln(v.prompt.out, err)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(v.out, res.Message)
		if res.Success {
			return nil
		}
		if !res.Retryable() {
			return fmt.Errorf("verification failed: %s", res.Message)
		}
	}
	return fmt.Errorf("code was not confirmed after %d attempts", maxCodeAttempts)
}
