package formats

// Family names the converter strategy that serves a compatibility rule.
type Family string

const (
	FamilyImage               Family = "image"
	FamilyDocument            Family = "document"
	FamilyCalendar            Family = "calendar"
	FamilyEbook               Family = "ebook"
	FamilyEmail               Family = "email"
	FamilyLegacyImage         Family = "legacy-image"
	FamilyProgramming         Family = "programming"
	FamilyCameraRaw           Family = "camera-raw"
	FamilySpecializedDocument Family = "specialized-document"
)

// Families lists every strategy family.
var Families = []Family{
	FamilyImage,
	FamilyDocument,
	FamilyCalendar,
	FamilyEbook,
	FamilyEmail,
	FamilyLegacyImage,
	FamilyProgramming,
	FamilyCameraRaw,
	FamilySpecializedDocument,
}

// Rule is one entry of the compatibility table.
type Rule struct {
	Name   string
	Family Family
	match  func(source, target Format) bool
}

func inCategories(f Format, cats ...Category) bool {
	for _, c := range cats {
		if f.Category == c {
			return true
		}
	}
	return false
}

func isID(f Format, ids ...string) bool {
	for _, id := range ids {
		if f.ID == id {
			return true
		}
	}
	return false
}

var officeCategories = []Category{CategoryDocument, CategorySpreadsheet, CategoryPresentation}

// sameCategoryFamily maps a category to the family that converts within it.
var sameCategoryFamily = map[Category]Family{
	CategoryImage:        FamilyImage,
	CategoryDocument:     FamilyDocument,
	CategorySpreadsheet:  FamilyDocument,
	CategoryPresentation: FamilyDocument,
	CategoryCalendar:     FamilyCalendar,
	CategoryEbook:        FamilyEbook,
	CategoryEmail:        FamilyEmail,
	CategoryRaw:          FamilyCameraRaw,
	CategoryLegacyImage:  FamilyLegacyImage,
	CategoryProgramming:  FamilyProgramming,
	CategorySpecialized:  FamilySpecializedDocument,
}

// rules is evaluated in order; the first match wins. Same-category pairs are
// handled ahead of the table in Match.
var rules = []Rule{
	{
		Name:   "office-cross",
		Family: FamilyDocument,
		match: func(s, t Format) bool {
			return inCategories(s, officeCategories...) &&
				(inCategories(t, officeCategories...) || isID(t, "txt", "pdf"))
		},
	},
	{
		Name:   "raw-to-image",
		Family: FamilyCameraRaw,
		match: func(s, t Format) bool {
			return s.Category == CategoryRaw && t.Category == CategoryImage
		},
	},
	{
		Name:   "legacy-to-image",
		Family: FamilyLegacyImage,
		match: func(s, t Format) bool {
			return s.Category == CategoryLegacyImage && t.Category == CategoryImage
		},
	},
	{
		Name:   "programming-to-text",
		Family: FamilyProgramming,
		match: func(s, t Format) bool {
			return s.Category == CategoryProgramming && t.ID == "txt"
		},
	},
	{
		Name:   "email-to-document",
		Family: FamilyEmail,
		match: func(s, t Format) bool {
			return s.Category == CategoryEmail && t.Category == CategoryDocument
		},
	},
	{
		Name:   "calendar-export",
		Family: FamilyCalendar,
		match: func(s, t Format) bool {
			return s.Category == CategoryCalendar && isID(t, "csv", "json")
		},
	},
	{
		Name:   "ebook-export",
		Family: FamilyEbook,
		match: func(s, t Format) bool {
			return s.Category == CategoryEbook && isID(t, "pdf", "txt", "html")
		},
	},
	{
		Name:   "specialized-export",
		Family: FamilySpecializedDocument,
		match: func(s, t Format) bool {
			return s.Category == CategorySpecialized && isID(t, "pdf", "txt", "html", "docx", "json")
		},
	},
}
