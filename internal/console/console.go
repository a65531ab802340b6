// Package console handles the terminal side of muti-ping: the host prompt,
// status lines, one line per echo reply and the closing statistics.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/postalsys/muti-ping/internal/ping"
)

// Color modes accepted by Options.Color.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Options configures a Console. Zero values select os.Stdin, os.Stdout,
// os.Stderr and ColorAuto.
type Options struct {
	In    io.Reader
	Out   io.Writer
	Err   io.Writer
	Color string
}

// Console writes user-facing output. It is safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	styled bool
	theme  *huh.Theme

	status lipgloss.Style
	failed lipgloss.Style
	header lipgloss.Style
	dim    lipgloss.Style
}

// New creates a Console.
func New(opts Options) *Console {
	c := &Console{
		in:     opts.In,
		out:    opts.Out,
		errOut: opts.Err,
		theme:  huh.ThemeDracula(),
	}
	if c.in == nil {
		c.in = os.Stdin
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.errOut == nil {
		c.errOut = os.Stderr
	}

	renderer := lipgloss.NewRenderer(c.out)
	switch opts.Color {
	case ColorAlways:
		renderer.SetColorProfile(termenv.ANSI256)
		c.styled = true
	case ColorNever:
		c.styled = false
	default:
		c.styled = isTerminal(c.out)
	}

	c.status = renderer.NewStyle().Foreground(lipgloss.Color("212"))
	c.failed = renderer.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	c.header = renderer.NewStyle().Bold(true)
	c.dim = renderer.NewStyle().Foreground(lipgloss.Color("241"))

	return c
}

// Interactive reports whether input comes from a terminal.
func (c *Console) Interactive() bool {
	return isTerminal(c.in)
}

// PromptHost asks for the host to ping. A terminal gets a form input;
// anything else gets a "Host: " prompt and one line is read. The answer is
// returned with surrounding whitespace removed and may be empty.
func (c *Console) PromptHost(ctx context.Context) (string, error) {
	if c.Interactive() {
		var host string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Host").
					Description("Name or IPv4 address to ping").
					Placeholder("example.com").
					Value(&host).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return errors.New("host is required")
						}
						return nil
					}),
			),
		).WithTheme(c.theme)

		if err := form.RunWithContext(ctx); err != nil {
			return "", err
		}
		return strings.TrimSpace(host), nil
	}

	c.printf(c.out, "Host: ")
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read host: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Discovered reports the resolved destination.
func (c *Console) Discovered(ip net.IP) {
	c.println(c.out, c.paint(c.status, "Discovered IPv4 address: "+ip.String()))
}

// SocketAcquired reports that the ICMP socket is open.
func (c *Console) SocketAcquired() {
	c.println(c.out, c.paint(c.status, "Acquired ICMP socket..."))
}

// SocketFailed reports that no socket could be opened.
func (c *Console) SocketFailed(err error) {
	c.println(c.errOut, c.paint(c.failed, "Unable to acquire a socket. Exiting..."))
	if err != nil {
		c.println(c.errOut, c.paint(c.dim, err.Error()))
	}
}

// Result prints one reply line.
func (c *Console) Result(r ping.EchoResult) {
	c.println(c.out, r.String())
}

// Serving reports that final statistics stay available on addr. A zero
// linger means until interrupted.
func (c *Console) Serving(addr string, linger time.Duration) {
	until := "until interrupted"
	if linger > 0 {
		until = "for " + linger.String()
	}
	c.println(c.out, c.paint(c.dim, fmt.Sprintf("Serving final statistics on %s %s...", addr, until)))
}

// CleaningUp reports that the session is releasing its socket.
func (c *Console) CleaningUp() {
	c.println(c.out, c.paint(c.dim, "Cleaning up state..."))
}

// Done reports the end of the run.
func (c *Console) Done() {
	c.println(c.out, c.paint(c.status, "Done running."))
}

// Error reports a fatal error on the error stream.
func (c *Console) Error(err error) {
	c.println(c.errOut, c.paint(c.failed, "Errored out: "+err.Error()))
}

// Summary prints the closing statistics block for host.
func (c *Console) Summary(host string, st ping.Stats) {
	var b strings.Builder

	b.WriteString(c.paint(c.header, fmt.Sprintf("--- %s ping statistics ---", host)))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s transmitted, %s received, %s%% packet loss",
		humanize.Comma(int64(st.Transmitted)),
		humanize.Comma(int64(st.Received)),
		humanize.FtoaWithDigits(st.PacketLoss, 1))
	if st.Discarded > 0 {
		fmt.Fprintf(&b, ", %s discarded", humanize.Comma(int64(st.Discarded)))
	}
	b.WriteByte('\n')

	if st.Received > 0 {
		fmt.Fprintf(&b, "%s received in replies\n", humanize.Bytes(uint64(st.BytesReceived)))
		fmt.Fprintf(&b, "rtt min/avg/max/stddev = %s/%s/%s/%s",
			roundRTT(st.MinRTT), roundRTT(st.AvgRTT), roundRTT(st.MaxRTT), roundRTT(st.StdDevRTT))
		b.WriteByte('\n')
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, b.String())
}

func roundRTT(d time.Duration) time.Duration {
	return d.Round(time.Microsecond)
}

func (c *Console) paint(style lipgloss.Style, s string) string {
	if !c.styled {
		return s
	}
	return style.Render(s)
}

func (c *Console) println(w io.Writer, s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, s)
}

func (c *Console) printf(w io.Writer, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
