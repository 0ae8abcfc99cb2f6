package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_DirectError(t *testing.T) {
	e := New(NotFound, "collection missing")
	assert.Equal(t, NotFound, KindOf(e))
}

func TestKindOf_WrappedError(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(StorageUnavailable, "cold tier write failed", cause)
	assert.Equal(t, StorageUnavailable, KindOf(e))
	assert.ErrorIs(t, e, cause)
}

func TestKindOf_NonAkiDBErrorDefaultsInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestKindOf_NilErrorIsEmpty(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryable_MatchesPropagationPolicy(t *testing.T) {
	assert.True(t, Overloaded.Retryable())
	assert.True(t, StorageUnavailable.Retryable())
	assert.True(t, EmbeddingUnavailable.Retryable())
	assert.True(t, DeadlineExceeded.Retryable())
	assert.False(t, InvalidInput.Retryable())
	assert.False(t, NotFound.Retryable())
	assert.False(t, AlreadyExists.Retryable())
	assert.False(t, Corrupted.Retryable())
	assert.False(t, Internal.Retryable())
}

func TestWithDetail_DoesNotMutateOriginal(t *testing.T) {
	base := New(InvalidInput, "bad dimension")
	withDetail := base.WithDetail("expected", 128)

	assert.Nil(t, base.Details)
	assert.Equal(t, 128, withDetail.Details["expected"])
}

func TestIs_MatchesOnKindOnly(t *testing.T) {
	a := New(NotFound, "collection")
	b := New(NotFound, "document")
	c := New(Internal, "collection")

	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
}
