// File: internal/discovery/framework.go
package discovery

import (
	"os"
	"path/filepath"
	"strings"
)

// Framework identifies the PHP framework a target codebase is built on.
type Framework string

const (
	FrameworkLaravel     Framework = "laravel"
	FrameworkSymfony     Framework = "symfony"
	FrameworkWordPress   Framework = "wordpress"
	FrameworkCodeIgniter Framework = "codeigniter"
	FrameworkCakePHP     Framework = "cakephp"
	FrameworkGeneric     Framework = "generic"
)

// markerFiles maps tell-tale paths (relative to the target root) to the
// framework they indicate. Checked in a fixed order so overlapping layouts
// resolve deterministically.
var markerFiles = []struct {
	path      string
	framework Framework
}{
	{"artisan", FrameworkLaravel},
	{"bootstrap/app.php", FrameworkLaravel},
	{"symfony.lock", FrameworkSymfony},
	{"bin/console", FrameworkSymfony},
	{"wp-config.php", FrameworkWordPress},
	{"wp-load.php", FrameworkWordPress},
	{"wp-includes", FrameworkWordPress},
	{"system/core/CodeIgniter.php", FrameworkCodeIgniter},
	{"spark", FrameworkCodeIgniter},
	{"bin/cake", FrameworkCakePHP},
}

// composerIndicators maps composer.json substrings to frameworks, used when
// no marker file resolves the layout.
var composerIndicators = []struct {
	needle    string
	framework Framework
}{
	{"laravel/framework", FrameworkLaravel},
	{"symfony/framework-bundle", FrameworkSymfony},
	{"symfony/http-foundation", FrameworkSymfony},
	{"johnpbloch/wordpress", FrameworkWordPress},
	{"codeigniter4/framework", FrameworkCodeIgniter},
	{"cakephp/cakephp", FrameworkCakePHP},
}

// DetectFramework inspects the target directory for framework markers. A
// plain file target or an unrecognized layout reports FrameworkGeneric.
func DetectFramework(target string) Framework {
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return FrameworkGeneric
	}

	for _, marker := range markerFiles {
		if _, err := os.Stat(filepath.Join(target, marker.path)); err == nil {
			return marker.framework
		}
	}

	if composer, err := os.ReadFile(filepath.Join(target, "composer.json")); err == nil {
		content := string(composer)
		for _, ind := range composerIndicators {
			if strings.Contains(content, ind.needle) {
				return ind.framework
			}
		}
	}

	return FrameworkGeneric
}
