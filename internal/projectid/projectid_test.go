package projectid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	assert.Equal(t, "26Q1W22", Generate(2026, 1, PlatformWeb, 22))
	assert.Equal(t, "24Q4Z00", Generate(2024, 4, PlatformZhong, 0))
	assert.Equal(t, "25Q2D07", Generate(2025, 2, PlatformDatabase, 7))
}

func TestGenerateUnknownPlatform(t *testing.T) {
	code := Generate(2026, 3, Platform("VR"), 5)
	assert.Equal(t, "26Q3X05", code)

	parsed, err := Parse(code)
	require.NoError(t, err)
	assert.Equal(t, PlatformUnknown, parsed.PlatformType)
}

func TestParse(t *testing.T) {
	c, err := Parse("26Q1W22")
	require.NoError(t, err)
	assert.Equal(t, Components{Year: 2026, Quarter: 1, PlatformType: PlatformWeb, ProjectNumber: 22}, c)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, code := range []string{"", "26W1Q22", "26Q5W22", "6Q1W22", "26Q1W2", "26q1w22", "26Q1W223"} {
		_, err := Parse(code)
		assert.Error(t, err, "code %q should not parse", code)
	}
}

func TestRoundTrip(t *testing.T) {
	platforms := []Platform{PlatformWeb, PlatformDatabase, PlatformAPI, PlatformUnity, PlatformZhong}
	for year := 2000; year <= 2099; year += 9 {
		for quarter := 1; quarter <= 4; quarter++ {
			for _, platform := range platforms {
				for _, number := range []int{0, 1, 22, 99} {
					code := Generate(year, quarter, platform, number)
					c, err := Parse(code)
					require.NoError(t, err, "code %q", code)
					assert.Equal(t, year, c.Year)
					assert.Equal(t, quarter, c.Quarter)
					assert.Equal(t, platform, c.PlatformType)
					assert.Equal(t, number, c.ProjectNumber)
				}
			}
		}
	}
}
