package version

import (
	"fmt"
	"github.com/veloxgate/veloxgate/theme"
	"log"
	"strings"
)

var (
	Name        = "veloxgate"
	Authors     = "The VeloxGate Authors"
	Description = "L7/L4 edge gateway"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/veloxgate/veloxgate"
	GithubHomeUri   = "https://github.com/veloxgate/veloxgate"
	GithubLatestUri = "https://github.com/veloxgate/veloxgate/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)
	padLatest := fmt.Sprintf("%*s", 1-len(Version), "")
	padBuffer := fmt.Sprintf("%*s", 2, "")

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔────────────────────────────────────────────────────────╗
│ ╦  ╦╔═╗╦  ╔═╗═╗ ╦╔═╗╔═╗╔╦╗╔═╗                            │
│ ╚╗╔╝║╣ ║  ║ ║╔╩╦╝║ ╦╠═╣ ║ ║╣                             │
│  ╚╝ ╚═╝╩═╝╚═╝╩ ╚═╚═╝╩ ╩ ╩ ╚═╝                            │
│                                      ⠀⠀⣀⣀⠀⠀⠀⠀⠀⣀⣀⠀⠀     │
│                                      ⠀⢰⡏⢹⡆⠀⠀⠀⢰⡏⢹⡆⡀     │
│  L7/L4 edge gateway                  ⠀⢸⡇⣸⡷⠟⠛⠻⢾⣇⣸⡇      │
│                                      ⢠⡾⠛⠉⠁⠀⠀⠀⠈⠉⠛⢷⡄     │
│                                      ⣿⠀⢀⣄⢀⣠⣤⣄⡀⣠⡀⠀⣿     │
│                                      ⢻⣄⠘⠋⡞⠉⢤⠉⢳⠙⠃⢠⡿⡀    │
│                                      ⣼⠃⠀⠀⠳⠤⠬⠤⠞⠀⠀⠘⣷     │
│                                      ⢸⡟⠀⠀⠀⠀⠀⠀⠀⠀⠀⢸⡇     │` + "\n"))

	b.WriteString(theme.ColourSplash("│ "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(padLatest)
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(padBuffer)
	b.WriteString(theme.ColourSplash(" ⢸⡅⠀⠀⠀⠀⠀⠀⠀⠀⠀⢀⡿     │\n"))
	b.WriteString(theme.ColourSplash("╚────────────────────────────────────────────────────────╝"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
