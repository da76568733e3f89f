package device

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func tok(raw string) Token {
	return Token{Hash: HashToken(raw), ExpiresAt: now.Add(time.Hour)}
}

func TestRegistry_OverflowEvictsOldest(t *testing.T) {
	for limit := 1; limit <= 5; limit++ {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			r := Registry{Limit: limit}

			for i := 1; i <= limit+1; i++ {
				d := fmt.Sprintf("d%d", i)
				adm := r.Admit(d, tok("token-"+d))
				assert.True(t, adm.Admitted)
				if i <= limit {
					assert.Empty(t, adm.Evicted)
				} else {
					assert.Equal(t, []string{"d1"}, adm.Evicted)
				}
			}

			want := make([]string, 0, limit)
			for i := 2; i <= limit+1; i++ {
				want = append(want, fmt.Sprintf("d%d", i))
			}
			assert.Equal(t, want, r.Devices)
			assert.Len(t, r.Tokens, limit)
			assert.False(t, r.IsLive("d1", HashToken("token-d1"), now))
			for _, d := range want {
				assert.True(t, r.IsLive(d, HashToken("token-"+d), now))
			}
		})
	}
}

func TestRegistry_ReloginReplacesToken(t *testing.T) {
	r := Registry{Limit: 2}
	r.Admit("phone", tok("first"))
	r.Admit("laptop", tok("laptop"))

	adm := r.Admit("phone", tok("second"))
	assert.True(t, adm.Known)
	assert.Empty(t, adm.Evicted)
	assert.Equal(t, []string{"phone", "laptop"}, r.Devices)
	assert.Equal(t, 2, r.Len())

	assert.False(t, r.IsLive("phone", HashToken("first"), now))
	assert.True(t, r.IsLive("phone", HashToken("second"), now))
}

func TestRegistry_RevokeIsImmediateAndIdempotent(t *testing.T) {
	r := Registry{Limit: 2}
	r.Admit("phone", tok("t"))

	assert.True(t, r.Revoke("phone"))
	assert.False(t, r.IsLive("phone", HashToken("t"), now))
	assert.Empty(t, r.Devices)
	assert.Empty(t, r.Tokens)

	assert.False(t, r.Revoke("phone"))
	assert.False(t, r.Revoke("never-seen"))
}

func TestRegistry_IsLiveRequiresUnexpiredMatchingToken(t *testing.T) {
	r := Registry{Limit: 1}
	r.Admit("phone", Token{Hash: HashToken("t"), ExpiresAt: now})

	assert.False(t, r.IsLive("phone", HashToken("t"), now), "expiry is exclusive")
	assert.True(t, r.IsLive("phone", HashToken("t"), now.Add(-time.Second)))
	assert.False(t, r.IsLive("phone", HashToken("other"), now.Add(-time.Second)))
	assert.False(t, r.IsLive("tablet", HashToken("t"), now.Add(-time.Second)))
}

func TestRegistry_ShrinkingLimitAppliesOnNextNewDevice(t *testing.T) {
	r := Registry{Limit: 2}
	r.Admit("phone", tok("phone"))
	r.Admit("laptop", tok("laptop"))

	r.Limit = 1
	assert.Equal(t, []string{"phone", "laptop"}, r.Devices, "no retroactive eviction")
	assert.True(t, r.IsLive("phone", HashToken("phone"), now))

	adm := r.Admit("laptop", tok("laptop-2"))
	assert.Empty(t, adm.Evicted, "known device does not trigger eviction")
	assert.Equal(t, 2, r.Len())

	adm = r.Admit("tablet", tok("tablet"))
	assert.Equal(t, []string{"phone", "laptop"}, adm.Evicted)
	assert.Equal(t, []string{"tablet"}, r.Devices)
}

func TestRegistry_NormalizeRepairsPairing(t *testing.T) {
	r := Registry{
		Limit:   3,
		Devices: []string{"a", "b", "a", "c"},
		Tokens: map[string]Token{
			"a":     tok("a"),
			"c":     tok("c"),
			"ghost": tok("ghost"),
		},
	}
	r.Normalize()

	assert.Equal(t, []string{"a", "c"}, r.Devices)
	require.Len(t, r.Tokens, 2)
	assert.Contains(t, r.Tokens, "a")
	assert.Contains(t, r.Tokens, "c")
}

func TestRegistry_DevicesAndTokensStayPaired(t *testing.T) {
	r := Registry{Limit: 3}
	ops := []struct {
		admit  bool
		device string
	}{
		{true, "a"}, {true, "b"}, {true, "a"}, {true, "c"}, {true, "d"},
		{false, "b"}, {false, "zzz"}, {true, "e"}, {true, "f"}, {false, "f"},
	}
	for _, op := range ops {
		if op.admit {
			r.Admit(op.device, tok(op.device))
		} else {
			r.Revoke(op.device)
		}
		require.Equal(t, len(r.Devices), len(r.Tokens))
		require.LessOrEqual(t, len(r.Devices), r.Limit)
		for _, d := range r.Devices {
			require.Contains(t, r.Tokens, d)
		}
	}
}

func TestHashToken(t *testing.T) {
	assert.Len(t, HashToken("x"), 64)
	assert.Equal(t, HashToken("x"), HashToken("x"))
	assert.NotEqual(t, HashToken("x"), HashToken("y"))
}
