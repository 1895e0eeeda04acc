package cmd

import (
	"fmt"
	"io"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/output"
)

// ReportError writes err for a human on a terminal and as one JSON object
// otherwise, so scripts reading stderr get a stable shape.
func ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}
	if output.IsTerminal(w) {
		_, _ = fmt.Fprint(w, amerrors.FormatForCLI(err))
		return
	}
	data, jerr := amerrors.FormatJSON(err)
	if jerr != nil {
		_, _ = fmt.Fprintln(w, err)
		return
	}
	_, _ = fmt.Fprintln(w, string(data))
}
