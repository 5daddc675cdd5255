package cache

import (
	"github.com/jmgilman/go/errors"
)

// CodeDocumentOpen marks a document that could not be opened at all. It is
// the only failure RenderWithCache surfaces.
const CodeDocumentOpen errors.ErrorCode = "DOCUMENT_OPEN_FAILED"

const documentOpenMessage = "the document could not be opened"

// DocumentOpenFailure builds the error returned when a document can't be
// opened. It is classified retryable so callers can offer a retry.
func DocumentOpenFailure(documentID string, cause error) errors.PlatformError {
	var err errors.PlatformError
	if cause != nil {
		err = errors.Wrap(cause, CodeDocumentOpen, documentOpenMessage)
	} else {
		err = errors.New(CodeDocumentOpen, documentOpenMessage)
	}
	err = errors.WithClassification(err, errors.ClassificationRetryable)
	return errors.WithContext(err, "document_id", documentID)
}

func IsDocumentOpenFailure(err error) bool {
	return errors.GetCode(err) == CodeDocumentOpen
}
