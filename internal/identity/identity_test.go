package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver is an in-memory Resolver shared by the tests in this package.
type fakeResolver struct {
	mu       sync.Mutex
	docs     map[string]*DIDDocument
	handles  map[string]string
	err      error
	didCalls int
	block    chan struct{}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{docs: map[string]*DIDDocument{}, handles: map[string]string{}}
}

func (f *fakeResolver) ResolveDID(ctx context.Context, did string) (*DIDDocument, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.didCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[did], nil
}

func (f *fakeResolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.handles[handle], nil
}

func (f *fakeResolver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.didCalls
}

func TestDIDDocument_Handle(t *testing.T) {
	doc := &DIDDocument{
		ID:          "did:plc:abc",
		AlsoKnownAs: []string{"https://example.com", "at://Alice.Example.COM"},
		Service: []Service{
			{ID: "#atproto_pds", Type: "AtprotoPersonalDataServer", ServiceEndpoint: "https://pds.example.com"},
		},
	}
	assert.Equal(t, "alice.example.com", doc.Handle())
	assert.Equal(t, "https://pds.example.com", doc.PDSEndpoint())

	var nilDoc *DIDDocument
	assert.Equal(t, "", nilDoc.Handle())
	assert.Equal(t, "", (&DIDDocument{AlsoKnownAs: []string{"at://"}}).Handle())
}

func TestNormalizeHandle(t *testing.T) {
	assert.Equal(t, "alice.test", NormalizeHandle(" @Alice.TEST "))
}

func TestVerifiedHandle(t *testing.T) {
	r := newFakeResolver()
	r.docs["did:plc:abc"] = &DIDDocument{ID: "did:plc:abc", AlsoKnownAs: []string{"at://alice.example.com"}}
	r.docs["did:plc:liar"] = &DIDDocument{ID: "did:plc:liar", AlsoKnownAs: []string{"at://alice.example.com"}}
	r.handles["alice.example.com"] = "did:plc:abc"

	h, err := VerifiedHandle(context.Background(), r, "did:plc:abc")
	require.NoError(t, err)
	assert.Equal(t, "alice.example.com", h)

	h, err = VerifiedHandle(context.Background(), r, "did:plc:liar")
	require.NoError(t, err)
	assert.Equal(t, "", h)

	h, err = VerifiedHandle(context.Background(), r, "did:plc:unknown")
	require.NoError(t, err)
	assert.Equal(t, "", h)

	r.err = errors.Join(ErrResolution, errors.New("timeout"))
	_, err = VerifiedHandle(context.Background(), r, "did:plc:abc")
	assert.ErrorIs(t, err, ErrResolution)
}

func TestStaticRegistry(t *testing.T) {
	next := newFakeResolver()
	next.handles["bob.example.com"] = "did:plc:bob"

	s := NewStaticRegistry(next, map[string]string{"Alice.test": "did:plc:alice"})

	did, err := s.ResolveHandle(context.Background(), "alice.test")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", did)

	did, err = s.ResolveHandle(context.Background(), "nobody.test")
	require.NoError(t, err)
	assert.Equal(t, "", did)

	did, err = s.ResolveHandle(context.Background(), "bob.example.com")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:bob", did)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.TestHandles = map[string]string{"alice.example.com": "did:plc:a"}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.StaleTTL = cfg.MaxTTL + 1
	assert.Error(t, cfg.Validate())

	cfg = Config{}
	t.Setenv("DID_PLC_URL", "http://localhost:2582")
	cfg.ApplyDefaults()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "http://localhost:2582", cfg.PLCURL)
	assert.NoError(t, cfg.Validate())
}
