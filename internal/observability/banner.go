package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorYellow   = "\033[93m"
)

var spinnerFrames = []string{"◜", "◝", "◞", "◟"}
var spinnerIdx = 0

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

// ------------------------------------------------------------
// Utility
// ------------------------------------------------------------

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ------------------------------------------------------------
// TermWriter – a mutex-guarded io.Writer for log output.
// Every log.Println call will go through this writer, ensuring
// the cursor is safely inside the scroll region before writing.
// ------------------------------------------------------------

type termWriter struct {
	out io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.out.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() io.Writer {
	return termWriter{out: os.Stderr}
}

// Print writes s to stdout under the terminal lock.
func Print(s string) {
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Print(s)
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner() {
	banner := `
  ___  ___ _____ ___ ___ ___    _
 | __|/ __|_   _| __|_ _| _ \  /_\
 | _| \__ \ | | | _| | ||   / / _ \
 |___||___/ |_| |___|___|_|_\/_/ \_\

      >> AGENT PIPELINE ENGINE <<
`

	width := termWidth()
	lines := strings.Split(banner, "\n")

	for _, l := range lines {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	fmt.Print("\033[2J\033[H")
	PrintBanner()
	// Header/Logo area: 1-8
	// Dashboard/Status: 9
	// Gap: 10
	// Scrolling Logs: 11+
	fmt.Print("\033[11;r")  // Set scrolling region from line 11 to the bottom
	fmt.Print("\033[11;1H") // Move cursor to the start of the scrolling region
}

func CleanupTerminal() {
	fmt.Print("\033[r")
}

// ------------------------------------------------------------
// Live Status
// ------------------------------------------------------------

// StatusLine renders the one-line pipeline dashboard.
func StatusLine(width int) string {
	phase, step, lastHB := GetStatus()
	uptime := time.Since(startTime).Round(time.Second)

	icon := "💤"
	phaseColor := colorReset
	switch phase {
	case PhaseRunning:
		icon = "⚙️"
		phaseColor = colorNeonCyan
	case PhaseWaiting:
		icon = "✋"
		phaseColor = colorYellow
	case PhaseFailed:
		icon = "🔴"
		phaseColor = colorNeonMag
	case PhaseDone:
		icon = "🟢"
		phaseColor = colorNeonCyan
	}

	spinner := " "
	if phase == PhaseRunning {
		spinner = spinnerFrames[spinnerIdx]
		spinnerIdx = (spinnerIdx + 1) % len(spinnerFrames)
	}

	displayStep := step
	if displayStep == "" {
		displayStep = "Waiting..."
	}
	maxStep := clamp(width-50, 10, 60)
	if len(displayStep) > maxStep {
		displayStep = displayStep[:maxStep-3] + "..."
	}

	return fmt.Sprintf(
		"%s[%s] %s%s %s%-8s%s | %s%s%s %s | up %v",
		colorReset,
		lastHB.Format("15:04:05"),
		phaseColor, icon, colorBold, phase, colorReset,
		colorPurple, spinner, colorReset,
		displayStep,
		uptime,
	)
}

func PrintLiveStatus() {
	// Build the status string BEFORE locking, to minimise lock hold time.
	statusStr := "\033[s\033[9;1H\033[K" + StatusLine(termWidth()) + "\033[u"

	// Lock, write the ENTIRE escape sequence atomically, unlock.
	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
