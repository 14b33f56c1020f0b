package round

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/panelkit/boardroom/board/panel"
)

// ErrMalformed reports a model reply that could not be parsed into a
// structured contribution.
var ErrMalformed = errors.New("round: malformed contribution reply")

// contributionReply is the wire shape personas are instructed to return.
type contributionReply struct {
	Stance    string   `json:"stance"`
	KeyPoints []string `json:"key_points"`
	Argument  string   `json:"argument"`
}

// parseReply extracts a structured contribution from raw model output.
// Parsing is strict: the reply must contain a JSON object with a
// non-empty stance and argument. Surrounding prose and markdown fences
// are tolerated, keyword guessing is not.
func parseReply(raw string) (contributionReply, error) {
	body := panel.ExtractJSON(raw)
	if body == "" {
		return contributionReply{}, fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}

	var r contributionReply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return contributionReply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(r.Stance) == "" {
		return contributionReply{}, fmt.Errorf("%w: missing stance", ErrMalformed)
	}
	if strings.TrimSpace(r.Argument) == "" {
		return contributionReply{}, fmt.Errorf("%w: missing argument", ErrMalformed)
	}
	return r, nil
}
