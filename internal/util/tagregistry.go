// Package util holds DICOM dataset helpers shared by the scanner, the renderer
// and the DICOMDIR builder.
package util

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// RecordLevel is the DICOMDIR directory record level a key attribute belongs to.
type RecordLevel int

const (
	LevelPatient RecordLevel = iota
	LevelStudy
	LevelSeries
	LevelInstance
)

// String returns the directory record type name of the level.
func (l RecordLevel) String() string {
	switch l {
	case LevelPatient:
		return "PATIENT"
	case LevelStudy:
		return "STUDY"
	case LevelSeries:
		return "SERIES"
	case LevelInstance:
		return "IMAGE"
	default:
		return "UNKNOWN"
	}
}

// ParseRecordLevel accepts "patient", "study", "series" or "image"/"instance".
func ParseRecordLevel(s string) (RecordLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient":
		return LevelPatient, nil
	case "study":
		return LevelStudy, nil
	case "series":
		return LevelSeries, nil
	case "image", "instance":
		return LevelInstance, nil
	}
	return 0, fmt.Errorf("unknown record level %q", s)
}

// TagInfo names an attribute that may be copied into a directory record.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Level RecordLevel
}

// tagRegistry maps lowercase attribute names to optional record keys.
// Mandatory keys are always written and are not listed here.
var tagRegistry = map[string]TagInfo{
	"patientbirthdate":  {Name: "PatientBirthDate", Tag: tag.PatientBirthDate, Level: LevelPatient},
	"patientsex":        {Name: "PatientSex", Tag: tag.PatientSex, Level: LevelPatient},
	"issuerofpatientid": {Name: "IssuerOfPatientID", Tag: tag.IssuerOfPatientID, Level: LevelPatient},

	"studydescription":       {Name: "StudyDescription", Tag: tag.StudyDescription, Level: LevelStudy},
	"accessionnumber":        {Name: "AccessionNumber", Tag: tag.AccessionNumber, Level: LevelStudy},
	"referringphysicianname": {Name: "ReferringPhysicianName", Tag: tag.ReferringPhysicianName, Level: LevelStudy},
	"institutionname":        {Name: "InstitutionName", Tag: tag.InstitutionName, Level: LevelStudy},

	"seriesdescription": {Name: "SeriesDescription", Tag: tag.SeriesDescription, Level: LevelSeries},
	"bodypartexamined":  {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Level: LevelSeries},
	"protocolname":      {Name: "ProtocolName", Tag: tag.ProtocolName, Level: LevelSeries},
	"manufacturer":      {Name: "Manufacturer", Tag: tag.Manufacturer, Level: LevelSeries},
	"seriesdate":        {Name: "SeriesDate", Tag: tag.SeriesDate, Level: LevelSeries},

	"imagetype":      {Name: "ImageType", Tag: tag.ImageType, Level: LevelInstance},
	"contentdate":    {Name: "ContentDate", Tag: tag.ContentDate, Level: LevelInstance},
	"contenttime":    {Name: "ContentTime", Tag: tag.ContentTime, Level: LevelInstance},
	"rows":           {Name: "Rows", Tag: tag.Rows, Level: LevelInstance},
	"columns":        {Name: "Columns", Tag: tag.Columns, Level: LevelInstance},
	"numberofframes": {Name: "NumberOfFrames", Tag: tag.NumberOfFrames, Level: LevelInstance},
}

// GetTagByName resolves an optional record key by name, case-insensitively.
// Unknown names get a "did you mean" suggestion when one is close enough.
func GetTagByName(name string) (TagInfo, error) {
	normalizedName := strings.ToLower(strings.TrimSpace(name))

	if info, ok := tagRegistry[normalizedName]; ok {
		return info, nil
	}

	suggestion := findClosestTagName(normalizedName)
	if suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown record key %q, did you mean %q?", name, suggestion)
	}

	return TagInfo{}, fmt.Errorf("unknown record key %q", name)
}

// TagsForLevel returns the registered keys of one level, sorted by name.
func TagsForLevel(level RecordLevel) []TagInfo {
	var out []TagInfo
	for _, info := range tagRegistry {
		if info.Level == level {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// findClosestTagName returns the registered name closest to input, or "" when
// nothing is within 5 edits.
func findClosestTagName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for key, info := range tagRegistry {
		distance := levenshteinDistance(input, key)
		if distance < bestDistance || (distance == bestDistance && info.Name < bestMatch) {
			bestDistance = distance
			bestMatch = info.Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
