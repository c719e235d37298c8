// Package session provides the branch/terminal context attached to
// outbound sync metadata.
package session

// Provider supplies the caller context stamped onto every sync request.
type Provider interface {
	BranchID() string
	BranchCode() string
	TerminalID() string
}

// Static is a Provider with fixed values, configured at startup.
type Static struct {
	Branch   string
	Code     string
	Terminal string
}

// BranchID returns the configured branch identifier.
func (s *Static) BranchID() string {
	return s.Branch
}

// BranchCode returns the configured branch code.
func (s *Static) BranchCode() string {
	return s.Code
}

// TerminalID returns the configured terminal identifier.
func (s *Static) TerminalID() string {
	return s.Terminal
}
