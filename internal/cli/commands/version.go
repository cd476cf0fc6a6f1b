package commands

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// BuildInfo identifies a sqlineage build. Commit and Date are stamped by the
// linker; when left unset they are read from the Go build information.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// driverModules are the database/sql drivers reported by version, keyed by
// module path.
var driverModules = []struct{ path, name string }{
	{"github.com/marcboeker/go-duckdb", "duckdb"},
	{"github.com/jackc/pgx/v5", "postgres"},
	{"modernc.org/sqlite", "sqlite"},
}

var readBuildInfo = debug.ReadBuildInfo

// NewVersionCommand creates the version command.
func NewVersionCommand(info BuildInfo) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the sqlineage version, the commit and Go toolchain it was built
with, and the versions of the catalog and history database drivers.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				_, _ = fmt.Fprintln(out, info.Version)
				return
			}
			writeVersion(out, resolveBuildInfo(info))
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}

type resolvedBuild struct {
	BuildInfo
	GoVersion string
	Modified  bool
	Drivers   [][2]string
}

func resolveBuildInfo(info BuildInfo) resolvedBuild {
	rb := resolvedBuild{BuildInfo: info, GoVersion: runtime.Version()}

	bi, ok := readBuildInfo()
	if !ok {
		return rb
	}
	if bi.GoVersion != "" {
		rb.GoVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if isUnset(rb.Commit) {
				rb.Commit = s.Value
			}
		case "vcs.time":
			if isUnset(rb.Date) {
				rb.Date = s.Value
			}
		case "vcs.modified":
			rb.Modified = s.Value == "true"
		}
	}

	deps := make(map[string]string, len(bi.Deps))
	for _, d := range bi.Deps {
		v := d.Version
		if d.Replace != nil {
			v = d.Replace.Version
		}
		deps[d.Path] = v
	}
	for _, m := range driverModules {
		if v, ok := deps[m.path]; ok {
			rb.Drivers = append(rb.Drivers, [2]string{m.name, v})
		}
	}
	return rb
}

func isUnset(s string) bool {
	return s == "" || s == "unknown"
}

func writeVersion(w io.Writer, rb resolvedBuild) {
	_, _ = fmt.Fprintf(w, "sqlineage v%s\n", rb.Version)

	commit := rb.Commit
	if isUnset(commit) {
		commit = "unknown"
	}
	if rb.Modified {
		commit += " (modified)"
	}
	date := rb.Date
	if isUnset(date) {
		date = "unknown"
	}

	_, _ = fmt.Fprintf(w, "  commit:   %s\n", commit)
	_, _ = fmt.Fprintf(w, "  built:    %s\n", date)
	_, _ = fmt.Fprintf(w, "  go:       %s %s/%s\n", rb.GoVersion, runtime.GOOS, runtime.GOARCH)
	for _, d := range rb.Drivers {
		_, _ = fmt.Fprintf(w, "  %-9s %s\n", d[0]+":", d[1])
	}
}
