package tui

// Keybinding constants
const (
	KeyTab    = "tab"
	KeyQuit   = "q"
	KeyCtrlC  = "ctrl+c"
	KeyPane1  = "1"
	KeyPane2  = "2"
	KeyReload = "r"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	return StyleHelp.Render("Tab: cycle focus | 1/2: jump to pane | r: refresh now | q: quit")
}
