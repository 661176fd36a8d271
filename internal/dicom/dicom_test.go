package dicom

import (
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"dicomcore/pkg/domain"
)

func TestParseTag(t *testing.T) {
	parsed, err := ParseTag("0010,0020")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != TagPatientID {
		t.Fatalf("parsed %s, want %s", parsed, TagPatientID)
	}
	if parsed.String() != "0010,0020" {
		t.Fatalf("rendered %q", parsed.String())
	}

	for _, bad := range []string{"", "0010", "0010-0020", "0010,0020,0030", "zzzz,0000"} {
		if _, err := ParseTag(bad); err == nil {
			t.Errorf("ParseTag(%q) should fail", bad)
		}
	}
}

func TestTagOrdering(t *testing.T) {
	a := Tag{Group: 0x0008, Element: 0x0050}
	b := Tag{Group: 0x0008, Element: 0x0060}
	c := Tag{Group: 0x0010, Element: 0x0010}
	if a.Compare(b) >= 0 || b.Compare(c) >= 0 || a.Compare(a) != 0 {
		t.Fatal("tags must order by group then element")
	}
	if !(Tag{Group: 0x0009, Element: 0}).IsPrivate() {
		t.Fatal("odd groups are private")
	}
}

func TestMapExtractLevel(t *testing.T) {
	m := NewMap()
	m.SetString(TagPatientID, "p1")
	m.SetString(TagPatientName, "DOE^JOHN")
	m.SetString(TagStudyInstanceUID, "1.2.3")
	m.SetString(TagModality, "CT")
	m.Set(Tag{Group: 0x0009, Element: 0x0001}, NewBinaryValue())

	patient := m.ExtractLevel(domain.ResourceTypePatient)
	if patient.Size() != 2 {
		t.Fatalf("patient extract has %d tags", patient.Size())
	}
	if _, ok := patient.GetString(TagStudyInstanceUID); ok {
		t.Fatal("study tag leaked into the patient extract")
	}

	series := m.ExtractLevel(domain.ResourceTypeSeries)
	if v, ok := series.GetString(TagModality); !ok || v != "CT" {
		t.Fatalf("modality = %q, %v", v, ok)
	}

	clone := m.Clone()
	clone.SetString(TagPatientID, "p2")
	if v, _ := m.GetString(TagPatientID); v != "p1" {
		t.Fatal("clone must not alias the original")
	}
}

func TestMapBinaryValues(t *testing.T) {
	m := NewMap()
	m.Set(TagPatientName, NewBinaryValue())
	if _, ok := m.GetString(TagPatientName); ok {
		t.Fatal("binary values must not be readable as strings")
	}
	if !m.Has(TagPatientName) {
		t.Fatal("binary values are still present")
	}
}

func TestRegistryClassification(t *testing.T) {
	cases := []struct {
		tag   Tag
		level domain.ResourceType
		typ   TagType
	}{
		{TagPatientID, domain.ResourceTypePatient, TagTypeIdentifier},
		{TagStudyInstanceUID, domain.ResourceTypeStudy, TagTypeIdentifier},
		{TagSeriesInstanceUID, domain.ResourceTypeSeries, TagTypeIdentifier},
		{TagSOPInstanceUID, domain.ResourceTypeInstance, TagTypeIdentifier},
		{TagModality, domain.ResourceTypeSeries, TagTypeMain},
		{TagInstanceNumber, domain.ResourceTypeInstance, TagTypeMain},
	}
	for _, c := range cases {
		info, ok := LookupTag(c.tag)
		if !ok {
			t.Fatalf("tag %s unknown to the registry", c.tag)
		}
		if info.Level != c.level || info.Type != c.typ {
			t.Errorf("tag %s classified as (%s, %d), want (%s, %d)",
				c.tag, info.Level, info.Type, c.level, c.typ)
		}
	}

	if _, ok := LookupTag(Tag{Group: 0x7fe0, Element: 0x0010}); ok {
		t.Error("pixel data must stay generic")
	}
}

func TestStudyIdentifierTagsIncludePatientTags(t *testing.T) {
	study := IdentifierTags(domain.ResourceTypeStudy)
	for _, want := range []Tag{TagPatientID, TagPatientName, TagStudyInstanceUID, TagAccessionNumber} {
		if !contains(study, want) {
			t.Errorf("study identifier tags miss %s", want)
		}
	}
	if !IsIdentifierTag(TagPatientID, domain.ResourceTypeStudy) {
		t.Error("patient criteria must be answerable from study rows")
	}
	if IsIdentifierTag(TagPatientID, domain.ResourceTypeSeries) {
		t.Error("patient tags are not indexed at the series level")
	}
}

func contains(tags []Tag, want Tag) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func TestNormalizeIdentifier(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Doe^John", "DOE^JOHN"},
		{"  padded  ", "PADDED"},
		{"wild%card_x", "WILD CARD X"},
		{"Müller", "MULLER"},
		{"caféé", "CAFEE"},
		{"tab\tand\nnewline", "TABANDNEWLINE"},
		{"", ""},
		{"%%%", ""},
	}
	for _, c := range cases {
		if got := NormalizeIdentifier(c.in); got != c.want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func newSummary(patientID, studyUID, seriesUID, sopUID string) *Map {
	m := NewMap()
	if patientID != "" {
		m.SetString(TagPatientID, patientID)
	}
	m.SetString(TagStudyInstanceUID, studyUID)
	m.SetString(TagSeriesInstanceUID, seriesUID)
	m.SetString(TagSOPInstanceUID, sopUID)
	return m
}

func TestHasherPipeDiscipline(t *testing.T) {
	h, err := NewInstanceHasher(newSummary("p", "st", "se", "i"))
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}

	sum := sha1.Sum([]byte("p|st|se|i"))
	if got := h.HashInstance(); got != hex.EncodeToString(sum[:]) {
		t.Fatalf("instance hash = %s", got)
	}
	if len(h.HashPatient()) != 40 || len(h.HashStudy()) != 40 || len(h.HashSeries()) != 40 {
		t.Fatal("hashes must be 40 hex characters")
	}

	// The separator keeps adjacent components from gluing together.
	a, _ := NewInstanceHasher(newSummary("ab", "c", "se", "i"))
	b, _ := NewInstanceHasher(newSummary("a", "bc", "se", "i"))
	if a.HashStudy() == b.HashStudy() {
		t.Fatal("distinct component splits must hash differently")
	}

	// Same instance summary, same identifiers.
	again, _ := NewInstanceHasher(newSummary("p", "st", "se", "i"))
	if again.Hash(domain.ResourceTypeSeries) != h.HashSeries() {
		t.Fatal("hashing must be deterministic")
	}
}

func TestHasherMissingPatientIDTolerated(t *testing.T) {
	h, err := NewInstanceHasher(newSummary("", "st", "se", "i"))
	if err != nil {
		t.Fatalf("missing PatientID must be tolerated: %v", err)
	}
	empty := sha1.Sum([]byte(""))
	if h.HashPatient() != hex.EncodeToString(empty[:]) {
		t.Fatal("absent PatientID hashes as the empty string")
	}
}

func TestHasherMissingUIDsRejected(t *testing.T) {
	bad := []*Map{
		newSummary("p", "", "se", "i"),
		newSummary("p", "st", "", "i"),
		newSummary("p", "st", "se", ""),
	}
	for i, m := range bad {
		if _, err := NewInstanceHasher(m); !domain.IsErrorCode(err, domain.ErrBadFileFormat) {
			t.Errorf("case %d: got %v, want BadFileFormat", i, err)
		}
	}
}
