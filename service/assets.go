package service

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/evrins/wsterm/config"
	"github.com/evrins/wsterm/public"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// assets are the browser client files. Files found in the optional static
// filesystem replace the embedded ones.
type assets struct {
	indexHTML string
	indexJS   string
	css       http.FileSystem
}

func loadAssets(fs afero.Fs, cfg config.Config) (*assets, error) {
	a := &assets{
		indexHTML: public.IndexHTML,
		indexJS:   public.IndexJS,
		css:       http.FS(public.CssFiles),
	}

	if fs != nil {
		var err error
		if a.indexHTML, err = readOr(fs, "/index.html", a.indexHTML); err != nil {
			return nil, err
		}
		if a.indexJS, err = readOr(fs, "/index.js", a.indexJS); err != nil {
			return nil, err
		}
		if ok, _ := afero.DirExists(fs, "/css"); ok {
			a.css = afero.NewHttpFs(fs).Dir("/")
		}
	}

	a.indexJS = strings.Replace(a.indexJS, "{addr}", template.JSEscapeString(cfg.Addr), 1)
	a.indexJS = strings.Replace(a.indexJS, "{port}", strconv.Itoa(cfg.Port), 1)
	a.indexJS = strings.Replace(a.indexJS, "{fontFamily}", template.JSEscapeString(cfg.Font), 1)
	a.indexJS = strings.Replace(a.indexJS, "{fontSize}", template.JSEscapeString(cfg.FontSize), 1)
	return a, nil
}

func readOr(fs afero.Fs, name, def string) (string, error) {
	ok, err := afero.Exists(fs, name)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", name)
	}
	if !ok {
		return def, nil
	}
	b, err := afero.ReadFile(fs, name)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	return string(b), nil
}
