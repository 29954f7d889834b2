package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

type Flag struct {
	Name     string
	Usage    string
	IsBool   bool
	BoolPtr  *bool
	StrPtr   *string
	DefValue string
}

// FlagSet is a small, predictable flag parser: "-name value" for strings,
// "-name" for booleans. Unknown flags print usage and stop the run.
type FlagSet struct {
	name     string
	synopsis string
	flags    map[string]*Flag
	args     []string
}

func NewFlagSet(name, synopsis string) *FlagSet {
	return &FlagSet{name: name, synopsis: synopsis, flags: make(map[string]*Flag)}
}

func (f *FlagSet) Bool(p *bool, name string, value bool, usage string) {
	*p = value
	f.flags[name] = &Flag{Name: name, Usage: usage, IsBool: true, BoolPtr: p, DefValue: fmt.Sprintf("%v", value)}
}

func (f *FlagSet) String(p *string, name, value, usage string) {
	*p = value
	f.flags[name] = &Flag{Name: name, Usage: usage, StrPtr: p, DefValue: value}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Parse(argv []string) error {
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "-") {
			f.args = append(f.args, arg)
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if name == "h" || name == "help" {
			f.Usage()
			os.Exit(0)
		}
		flag, ok := f.flags[name]
		if !ok {
			f.Usage()
			return fmt.Errorf("unknown flag -%s", name)
		}
		if flag.IsBool {
			*flag.BoolPtr = true
			continue
		}
		if i+1 >= len(argv) {
			return fmt.Errorf("flag -%s needs a value", name)
		}
		i++
		*flag.StrPtr = argv[i]
	}
	return nil
}

// Usage prints the flag table; when stdout is a TTY, lines longer than the
// terminal width are cut at that width.
func (f *FlagSet) Usage() {
	width := 80
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
			width = w
		}
	}

	fmt.Printf("Usage: %s %s\n\nFlags:\n", f.name, f.synopsis)
	names := make([]string, 0, len(f.flags))
	for name := range f.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		flag := f.flags[name]
		line := fmt.Sprintf("  -%-10s %s (default %s)", flag.Name, flag.Usage, flag.DefValue)
		if len(line) > width {
			line = line[:width]
		}
		fmt.Println(line)
	}
}

// Colorize wraps s in an ANSI color when stderr is a terminal.
func Colorize(s, color string) string {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return s
	}
	return color + s + "\x1b[0m"
}

const (
	Red    = "\x1b[31m"
	Yellow = "\x1b[33m"
	Green  = "\x1b[32m"
)
