package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateGetDestroy(t *testing.T) {
	var mu sync.Mutex
	var ended []Session
	s := NewStore(time.Hour, func(sess Session) {
		mu.Lock()
		ended = append(ended, sess)
		mu.Unlock()
	})

	sess, err := s.Create("u1", "tok-1")
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{64}$", sess.ID)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "tok-1", got.CSRFToken)

	s.Destroy(sess.ID)
	_, err = s.Get(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ended, 1)
	assert.Equal(t, "tok-1", ended[0].CSRFToken)
}

func TestStore_Rebind(t *testing.T) {
	s := NewStore(time.Hour, nil)
	sess, err := s.Create("u1", "old")
	require.NoError(t, err)

	updated, err := s.Rebind(sess.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", updated.CSRFToken)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.CSRFToken)

	_, err = s.Rebind("missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Expiry(t *testing.T) {
	s := NewStore(20*time.Millisecond, nil)
	sess, err := s.Create("u1", "tok")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := s.Get(sess.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestStore_UnknownAndEmpty(t *testing.T) {
	s := NewStore(time.Hour, nil)
	_, err := s.Get("")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	s.Destroy("nope")
	s.Destroy("")
}

func TestTokenStore(t *testing.T) {
	s := NewTokenStore(time.Hour)
	token, err := s.Issue("u7")
	require.NoError(t, err)

	uid, err := s.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "u7", uid)

	s.Revoke(token)
	_, err = s.Resolve(token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Resolve("")
	assert.ErrorIs(t, err, ErrNotFound)
}
