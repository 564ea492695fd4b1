package document

import "strings"

// directoryTypeTable maps an upper-cased, first-path-segment directory
// prefix to the Type it implies when front matter doesn't declare one.
var directoryTypeTable = map[string]Type{
	"CORE":          TypeDocumentation,
	"BIO":           TypeDocumentation,
	"EXPERTISE":     TypeDocumentation,
	"COMMUNICATION": TypeDocumentation,

	"PROJECTS":         TypeProject,
	"CELAYA_SOLUTIONS": TypeProject,
	"MUSIC":            TypeProject,

	"PHILOSOPHY": TypePhilosophy,

	"COGNITIVE_PATTERNS": TypeResearch,
	"RESEARCH":           TypeResearch,
	"MENTAL_ARTIFACTS":   TypeResearch,
}

// tagKeywords is the closed list of body keywords that, when present,
// contribute a tag regardless of which folder a document lives in.
var tagKeywords = []string{
	"clos", "neural", "cognitive", "ai", "research", "flow",
	"optimization", "architecture", "agent", "chess", "artifact",
	"music", "production",
}

// inferType returns the Type implied by relPath's first directory
// segment, defaulting to TypeDocumentation when the prefix is unknown or
// the document sits at the corpus root.
func inferType(relPath string) Type {
	segment := firstPathSegment(relPath)
	if t, ok := directoryTypeTable[strings.ToUpper(segment)]; ok {
		return t
	}
	return TypeDocumentation
}

func firstPathSegment(relPath string) string {
	relPath = strings.TrimPrefix(relPath, "/")
	if idx := strings.IndexAny(relPath, "/\\"); idx != -1 {
		return relPath[:idx]
	}
	return ""
}

// inferTags returns the union of normalized folder tokens along the
// document's path and any tagKeywords present in body.
func inferTags(relPath, body string) []string {
	seen := make(map[string]bool)
	var tags []string

	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	for _, token := range folderTokens(relPath) {
		add(normalizeFolderToken(token))
	}

	lowerBody := strings.ToLower(body)
	for _, kw := range tagKeywords {
		if strings.Contains(lowerBody, kw) {
			add(kw)
		}
	}

	return tags
}

func folderTokens(relPath string) []string {
	dir := relPath
	if idx := strings.LastIndexAny(dir, "/\\"); idx != -1 {
		dir = dir[:idx]
	} else {
		return nil
	}
	return strings.FieldsFunc(dir, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

func normalizeFolderToken(token string) string {
	token = strings.ToLower(token)
	replacer := strings.NewReplacer("_", " ", "-", " ")
	return strings.Join(strings.Fields(replacer.Replace(token)), " ")
}
