package files

import "strings"

var defaultExcludeDirs = map[string]bool{
	".git":        true,
	".hg":         true,
	".svn":        true,
	"__pycache__": true,
	".cache":      true,
}

// suffixes of editor temp files that are rewritten on every keystroke
var defaultExcludeFileSuffixes = []string{
	".swp", ".swx", ".swo",
	".tmp",
	"~",
}

var defaultExcludeFileNames = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
	"4913":      true, // vim write probe
}

func isDefaultDirExcluded(name string) bool {
	return defaultExcludeDirs[name]
}

func isDefaultFileExcluded(lowerRel string) bool {
	for _, s := range defaultExcludeFileSuffixes {
		if strings.HasSuffix(lowerRel, s) {
			return true
		}
	}
	parts := strings.Split(lowerRel, "/")
	base := parts[len(parts)-1]
	if strings.HasPrefix(base, ".#") {
		return true
	}
	return defaultExcludeFileNames[base]
}
