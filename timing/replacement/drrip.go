package replacement

import "github.com/sarchlab/memsim/internal/simerrors"

// DRRIP (Dynamic RRIP) is left unimplemented per spec.md §9 Open Question
// (iii): "The DRRIP replacement file is empty stub in the source; treat
// as unimplemented rather than inferring behaviour." NewDRRIP exists only
// so configuration can name "drrip" and receive a clear, typed error
// instead of silently falling back to another policy.
type DRRIP struct{}

// NewDRRIP always fails with simerrors.ErrUnimplemented.
func NewDRRIP() (*DRRIP, error) {
	return nil, simerrors.ErrUnimplemented
}

func (d *DRRIP) Name() string { return "drrip" }
