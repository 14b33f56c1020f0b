package board

import "errors"

var (
	// ErrSessionNotFound reports an unknown session ID.
	ErrSessionNotFound = errors.New("board: session not found")

	// ErrSessionTerminal reports a control operation on a session that
	// has already completed, failed, or been killed.
	ErrSessionTerminal = errors.New("board: session already terminal")

	// ErrNotAwaiting reports a clarification sent to a session that is
	// not blocked on one.
	ErrNotAwaiting = errors.New("board: session not awaiting clarification")

	// ErrCapacity reports that the session ceiling is reached and no
	// session is old enough to evict.
	ErrCapacity = errors.New("board: session capacity reached")

	// ErrStepLimit reports that a session hit the global step cap.
	ErrStepLimit = errors.New("board: step limit exceeded")

	// ErrUnknownNode reports a routing target outside the closed node
	// set. It indicates a programming error, not an operational one.
	ErrUnknownNode = errors.New("board: unknown node")
)
