package changeset

import (
	"fmt"

	"cuelang.org/go/cue/token"
)

func position(p token.Pos) string {
	if !p.IsValid() {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename(), p.Line(), p.Column())
}
