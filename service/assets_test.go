package service

import (
	"strings"
	"testing"

	"github.com/evrins/wsterm/config"
	"github.com/spf13/afero"
)

func TestLoadAssets_Embedded(t *testing.T) {
	a, err := loadAssets(nil, config.Config{Addr: "localhost", Port: 9999, Font: `Fira "Code"`, FontSize: "14"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"localhost"`, `"9999"`, `"14"`, `Fira \"Code\"`} {
		if !strings.Contains(a.indexJS, want) {
			t.Errorf("index.js does not contain %s", want)
		}
	}
	if strings.Contains(a.indexJS, "{port}") {
		t.Error("placeholder left in index.js")
	}
	if _, err := a.css.Open("/css/style.css"); err != nil {
		t.Errorf("embedded css: %v", err)
	}
}

func TestLoadAssets_Override(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/index.html", []byte("<p>custom</p>"), 0o644)
	_ = afero.WriteFile(fs, "/css/custom.css", []byte("body{}"), 0o644)

	a, err := loadAssets(fs, config.Config{Port: 1})
	if err != nil {
		t.Fatal(err)
	}
	if a.indexHTML != "<p>custom</p>" {
		t.Errorf("index.html = %q", a.indexHTML)
	}
	if !strings.Contains(a.indexJS, `"1"`) {
		t.Error("index.js should fall back to the embedded file")
	}
	if _, err := a.css.Open("/css/custom.css"); err != nil {
		t.Errorf("override css: %v", err)
	}
}
