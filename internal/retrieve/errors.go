package retrieve

import (
	"errors"
	"fmt"
)

var (
	errNoChannelEnabled = errors.New("retrieve: no channel enabled (enable_web and enable_rag both false)")
	errEmptyEmbedding   = errors.New("retrieve: embedding client returned no vectors")
)

func combineErrs(docErr, webErr error) error {
	switch {
	case docErr != nil && webErr != nil:
		return fmt.Errorf("doc channel: %w; web channel: %v", docErr, webErr)
	case docErr != nil:
		return docErr
	case webErr != nil:
		return webErr
	default:
		return errors.New("retrieve: no evidence returned by any channel")
	}
}
