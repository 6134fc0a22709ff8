package r2client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// LockInfo is the JSON body of a lock object.
type LockInfo struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lock is a lease on an R2 key built on conditional writes. An expired
// lease can be taken over by another owner.
type Lock struct {
	client  *Client
	key     string
	ttl     time.Duration
	ownerID string
	etag    string
	now     func() time.Time
}

// NewLock creates a lock on key with a fresh owner id.
func NewLock(client *Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client:  client,
		key:     key,
		ttl:     ttl,
		ownerID: uuid.NewString(),
		now:     time.Now,
	}
}

// Acquire takes the lock. It returns false without error when another
// owner holds an unexpired lease.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	body, err := l.lease()
	if err != nil {
		return false, err
	}
	created, etag, err := l.client.PutIfAbsent(ctx, l.key, bytes.NewReader(body), "application/json")
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if created {
		l.etag = etag
		return true, nil
	}

	info, etag, err := l.read(ctx)
	if errors.Is(err, ErrNotFound) {
		// Released between our two calls; let the caller retry.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if info != nil && l.now().Before(info.ExpiresAt) {
		return false, nil
	}

	// Expired or unreadable: take it over if nobody beat us to it.
	taken, newETag, err := l.client.PutIfMatch(ctx, l.key, bytes.NewReader(body), etag, "application/json")
	if err != nil {
		return false, fmt.Errorf("acquire lock: take over: %w", err)
	}
	if taken {
		l.etag = newETag
	}
	return taken, nil
}

// Renew extends the lease. It returns false when the lock was lost.
func (l *Lock) Renew(ctx context.Context) (bool, error) {
	if l.etag == "" {
		return false, nil
	}
	body, err := l.lease()
	if err != nil {
		return false, err
	}
	updated, newETag, err := l.client.PutIfMatch(ctx, l.key, bytes.NewReader(body), l.etag, "application/json")
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	if !updated {
		l.etag = ""
		return false, nil
	}
	l.etag = newETag
	return true, nil
}

// Release deletes the lock if this owner still holds it.
func (l *Lock) Release(ctx context.Context) error {
	info, _, err := l.read(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.etag = ""
	if info != nil && info.Owner != l.ownerID {
		return nil
	}
	return l.client.Delete(ctx, l.key)
}

// OwnerID returns the unique identifier of this lock instance.
func (l *Lock) OwnerID() string { return l.ownerID }

func (l *Lock) lease() ([]byte, error) {
	data, err := json.Marshal(LockInfo{Owner: l.ownerID, ExpiresAt: l.now().Add(l.ttl)})
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	return data, nil
}

// read returns the current lease and its ETag. A lease that cannot be
// decoded is returned as nil info.
func (l *Lock) read(ctx context.Context) (*LockInfo, string, error) {
	body, obj, err := l.client.Download(ctx, l.key)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, 4<<10))
	if err != nil {
		return nil, "", fmt.Errorf("read lock: %w", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, obj.ETag, nil
	}
	return &info, obj.ETag, nil
}
