package persist

import (
	"context"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore keeps the snapshot under a single key in Valkey (open-source
// version of Redis), for deployments without durable local disk. The
// single-writer discipline still applies: one process owns the key.
type ValkeyStore struct {
	client valkey.Client
	key    string
}

func NewValkeyStore(client valkey.Client, key string) *ValkeyStore {
	if key == "" {
		key = "relay:snapshot"
	}
	return &ValkeyStore{client: client, key: key}
}

func (s *ValkeyStore) Save(ctx context.Context, data []byte) error {
	return s.client.Do(
		ctx, s.client.B().Set().
			Key(s.key).
			Value(valkey.BinaryString(data)).
			Build(),
	).Error()
}

func (s *ValkeyStore) Load(ctx context.Context) ([]byte, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.AsBytes()
}
