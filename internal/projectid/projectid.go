// Package projectid generates and parses the compact project business key
// used by the dashboard grid: two-digit year, literal "Q", quarter digit,
// one-letter platform code, two-digit project number (e.g. "26Q1W22").
package projectid

import (
	"fmt"
	"regexp"
	"strconv"
)

// Platform identifies which slot family a project belongs to.
type Platform string

const (
	PlatformWeb      Platform = "WEB"
	PlatformDatabase Platform = "DATABASE"
	PlatformAPI      Platform = "API"
	PlatformUnity    Platform = "UNITY"
	PlatformZhong    Platform = "ZHONG" // center/executive slot
	PlatformUnknown  Platform = "UNKNOWN"
)

var platformCodes = map[Platform]byte{
	PlatformWeb:      'W',
	PlatformDatabase: 'D',
	PlatformAPI:      'A',
	PlatformUnity:    'U',
	PlatformZhong:    'Z',
}

var codePlatforms = map[byte]Platform{
	'W': PlatformWeb,
	'D': PlatformDatabase,
	'A': PlatformAPI,
	'U': PlatformUnity,
	'Z': PlatformZhong,
}

// Components are the four fields encoded in a project code.
type Components struct {
	Year          int
	Quarter       int
	PlatformType  Platform
	ProjectNumber int
}

var codePattern = regexp.MustCompile(`^(\d{2})Q([1-4])([A-Z])(\d{2})$`)

// Generate builds the project code string. Unknown platforms map to the
// reserved letter X so the result still parses structurally.
func Generate(year, quarter int, platform Platform, number int) string {
	letter, ok := platformCodes[platform]
	if !ok {
		letter = 'X'
	}
	return fmt.Sprintf("%02dQ%d%c%02d", year%100, quarter, letter, number)
}

// GenerateFromComponents is a convenience wrapper around Generate.
func GenerateFromComponents(c Components) string {
	return Generate(c.Year, c.Quarter, c.PlatformType, c.ProjectNumber)
}

// Parse decodes a project code back into its components. Years are
// interpreted in the 2000-2099 window. An unrecognized platform letter
// parses as PlatformUnknown rather than failing.
func Parse(code string) (Components, error) {
	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return Components{}, fmt.Errorf("invalid project code %q", code)
	}

	yy, _ := strconv.Atoi(m[1])
	quarter, _ := strconv.Atoi(m[2])
	number, _ := strconv.Atoi(m[4])

	platform, ok := codePlatforms[m[3][0]]
	if !ok {
		platform = PlatformUnknown
	}

	return Components{
		Year:          2000 + yy,
		Quarter:       quarter,
		PlatformType:  platform,
		ProjectNumber: number,
	}, nil
}
