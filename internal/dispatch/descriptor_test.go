package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimogh/trdk/internal/domain"
)

func TestParseRequirements(t *testing.T) {
	reqs, err := ParseRequirements("bars[GLD], bars[DGL], level1[GLD]")
	require.NoError(t, err)
	assert.Equal(t, []Requirement{
		{Name: "bars", Symbol: "GLD"},
		{Name: "bars", Symbol: "DGL"},
		{Name: "level1", Symbol: "GLD"},
	}, reqs)
}

func TestParseRequirements_PlainNames(t *testing.T) {
	reqs, err := ParseRequirements("gld_bars, ma_fast")
	require.NoError(t, err)
	assert.Equal(t, []Requirement{{Name: "gld_bars"}, {Name: "ma_fast"}}, reqs)
}

func TestParseRequirements_Empty(t *testing.T) {
	reqs, err := ParseRequirements("  ")
	require.NoError(t, err)
	assert.Nil(t, reqs)
}

func TestParseRequirements_Malformed(t *testing.T) {
	for _, descriptor := range []string{
		"bars[GLD",
		"bars]GLD[",
		"[GLD]",
		"bars[]",
		"bars[GLD], ,",
		"bars[G[L]D]",
	} {
		_, err := ParseRequirements(descriptor)
		require.Error(t, err, "descriptor %q", descriptor)
		assert.True(t, domain.IsConfigError(err), "descriptor %q", descriptor)
	}
}
