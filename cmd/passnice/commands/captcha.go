package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"passnice/internal/scrapers/checkplus"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var captchaOnlyOut string

func init() {
	captchaCmd.Flags().StringVarP(
		&captchaOnlyOut,
		"out", "o",
		filepath.Join(os.TempDir(), "passnice-captcha.png"),
		"Where to save the captcha image.",
	)
	rootCmd.AddCommand(captchaCmd)
}

var tokenNames = []string{
	checkplus.TOKEN_WC_COOKIE,
	checkplus.TOKEN_M,
	checkplus.TOKEN_ENCODE_DATA,
	checkplus.TOKEN_TRACER_IP,
	checkplus.TOKEN_SERVICE_INFO,
	checkplus.TOKEN_CERT_INFO_HASH,
	checkplus.TOKEN_CAPTCHA_VERSION,
}

var captchaCmd = &cobra.Command{
	Use:   "captcha [carrier]",
	Short: "Opens a session up to the captcha and prints the tokens it collected.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		carrier, err := resolveCarrier(newPrompter(os.Stdin, os.Stderr), args)
		if err != nil {
			return err
		}

		session, cleanup, err := env.openSession(ctx, carrier)
		defer cleanup()
		if err != nil {
			return err
		}

		res, err := session.InitSession(ctx, checkplus.AUTH_TYPE_SMS)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("init session: %s", res.Message)
		}
		captcha, err := session.RetrieveCaptcha(ctx)
		if err != nil {
			return err
		}
		err = os.WriteFile(captchaOnlyOut, captcha.Data, 0644)
		if err != nil {
			return fmt.Errorf("save captcha: %w", err)
		}

		tokens := session.Tokens()
		t := newTable(os.Stdout)
		t.AppendHeader(table.Row{"Token", "Value"})
		for _, name := range tokenNames {
			value, ok := tokens.Get(name)
			if !ok {
				value = "-"
			}
			t.AppendRow(table.Row{name, value})
		}
		t.AppendFooter(table.Row{"version", tokens.Version})
		t.Render()

		fmt.Printf("captcha saved to %s (%d bytes)\n", captchaOnlyOut, len(captcha.Data))
		return nil
	},
}
