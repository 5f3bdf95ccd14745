package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

const baseLang = "en"

// Translator resolves message keys against locales/<lang>.yaml and then the
// English catalog. Nested YAML maps are addressed with dotted keys, so
//
//	checkout:
//	  login_required: "..."
//
// and `checkout.login_required: "..."` are equivalent.
type Translator struct {
	lang  string
	chain []map[string]string
}

func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	primary, err := readCatalog(fsys, lang)
	if err != nil {
		return nil, err
	}
	t := &Translator{lang: lang, chain: []map[string]string{primary}}
	if lang != baseLang {
		if base, err := readCatalog(fsys, baseLang); err == nil {
			t.chain = append(t.chain, base)
		}
	}
	return t, nil
}

func readCatalog(fsys fs.FS, lang string) (map[string]string, error) {
	name := path.Join("locales", lang+".yaml")
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("i18n: read %s: %w", name, err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("i18n: parse %s: %w", name, err)
	}
	out := make(map[string]string, len(tree))
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// T formats the first catalog entry for key with args. Unknown keys come
// back unchanged.
func (t *Translator) T(key string, args ...interface{}) string {
	for _, c := range t.chain {
		if format, ok := c[key]; ok {
			if len(args) == 0 {
				return format
			}
			return fmt.Sprintf(format, args...)
		}
	}
	return key
}

func (t *Translator) Lang() string { return t.lang }
