package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// stepSpinner shows a braille spinner while a step runs, or static text when
// stderr is not a terminal.
type stepSpinner struct {
	w      io.Writer
	s      *spinner.Spinner
	msg    string
	active bool
	noSpin bool
}

func newStepSpinner(w io.Writer) *stepSpinner {
	noSpin := true
	if f, ok := w.(*os.File); ok {
		noSpin = !isatty.IsTerminal(f.Fd())
	}
	return &stepSpinner{w: w, noSpin: noSpin}
}

func (ss *stepSpinner) Start(msg string) {
	ss.msg = msg
	if ss.noSpin {
		fmt.Fprintf(ss.w, "  %s", msg)
		return
	}
	ss.s = spinner.New(
		spinner.CharSets[14],
		80*time.Millisecond,
		spinner.WithWriter(ss.w),
	)
	ss.s.Prefix = "  "
	ss.s.Suffix = " " + msg
	ss.s.FinalMSG = ""
	ss.s.Start()
	ss.active = true
}

func (ss *stepSpinner) finish(symbol string) {
	if ss.noSpin {
		fmt.Fprintf(ss.w, " %s\n", symbol)
		return
	}
	ss.Stop()
	fmt.Fprintf(ss.w, "\r  %s %s\n", ss.msg, symbol)
}

func (ss *stepSpinner) Done() {
	ss.finish(text.FgGreen.Sprint("✓"))
}

func (ss *stepSpinner) Fail() {
	ss.finish(text.FgRed.Sprint("✗"))
}

func (ss *stepSpinner) Stop() {
	if ss.s != nil && ss.active {
		ss.s.Stop()
		ss.active = false
	}
}

// runStep runs fn under a spinner, the step is marked failed when fn returns
// an error or an unsuccessful result.
func runStep[T any](ss *stepSpinner, msg string, fn func() (T, bool, error)) (T, error) {
	ss.Start(msg)
	out, ok, err := fn()
	if err != nil || !ok {
		ss.Fail()
		return out, err
	}
	ss.Done()
	return out, nil
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) prompter {
	return prompter{in: bufio.NewReader(in), out: out}
}

func (p prompter) Ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
