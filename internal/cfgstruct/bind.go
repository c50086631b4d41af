// Package cfgstruct binds a nested configuration struct to a pflag
// FlagSet by reflection: every leaf field becomes one flag, named by
// its dotted, kebab-cased path from the struct root, with its default
// taken from a `default:"..."` struct tag.
package cfgstruct

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
)

// BindOpt configures a Bind call.
type BindOpt func(*bindOpts)

type bindOpts struct {
	confDir       string
	confDirNested bool
}

// ConfDir substitutes $CONFDIR/${CONFDIR} in every default tag with
// dir, unchanged regardless of nesting depth.
func ConfDir(dir string) BindOpt {
	return func(o *bindOpts) { o.confDir = dir }
}

// ConfDirNested behaves like ConfDir, except each level of struct
// nesting below the root appends its own kebab-cased field name as a
// path segment, so state belonging to a nested subsystem lands in its
// own subdirectory of dir.
func ConfDirNested(dir string) BindOpt {
	return func(o *bindOpts) { o.confDir = dir; o.confDirNested = true }
}

// Bind walks config (a pointer to a struct) and registers one flag
// per leaf field on f.
func Bind(f *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	var o bindOpts
	for _, opt := range opts {
		opt(&o)
	}

	v := reflect.ValueOf(config)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		panic("cfgstruct.Bind: config must be a pointer to a struct")
	}

	bindStruct(f, v.Elem(), "", o.confDir, &o)
}

func bindStruct(f *pflag.FlagSet, structVal reflect.Value, prefix, dir string, o *bindOpts) {
	t := structVal.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		fieldVal := structVal.Field(i)
		name := kebabCase(field.Name)
		flagName := name
		if prefix != "" {
			flagName = prefix + "." + name
		}

		switch fieldVal.Kind() {
		case reflect.Struct:
			bindStruct(f, fieldVal, flagName, nestedDir(dir, name, o), o)
		case reflect.Array:
			for j := 0; j < fieldVal.Len(); j++ {
				elemName := fmt.Sprintf("%s.%02d", flagName, j)
				elem := fieldVal.Index(j)
				if elem.Kind() == reflect.Struct {
					bindStruct(f, elem, elemName, dir, o)
				}
			}
		default:
			bindLeaf(f, fieldVal, flagName, field, dir)
		}
	}
}

func nestedDir(dir, name string, o *bindOpts) string {
	if dir == "" || !o.confDirNested {
		return dir
	}
	return filepath.Join(dir, name)
}

func bindLeaf(f *pflag.FlagSet, fieldVal reflect.Value, flagName string, field reflect.StructField, dir string) {
	def := substituteConfDir(field.Tag.Get("default"), dir)
	usage := field.Tag.Get("usage")

	switch fieldVal.Kind() {
	case reflect.String:
		f.StringVar(fieldVal.Addr().Interface().(*string), flagName, def, usage)
	case reflect.Bool:
		b := def == "true"
		f.BoolVar(fieldVal.Addr().Interface().(*bool), flagName, b, usage)
	case reflect.Int:
		f.IntVar(fieldVal.Addr().Interface().(*int), flagName, parseInt(def), usage)
	case reflect.Int64:
		if fieldVal.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(def)
			if err != nil {
				d = 0
			}
			f.DurationVar(fieldVal.Addr().Interface().(*time.Duration), flagName, d, usage)
			return
		}
		f.Int64Var(fieldVal.Addr().Interface().(*int64), flagName, int64(parseInt(def)), usage)
	case reflect.Uint:
		f.UintVar(fieldVal.Addr().Interface().(*uint), flagName, uint(parseInt(def)), usage)
	case reflect.Uint64:
		f.Uint64Var(fieldVal.Addr().Interface().(*uint64), flagName, uint64(parseInt(def)), usage)
	case reflect.Float64:
		f.Float64Var(fieldVal.Addr().Interface().(*float64), flagName, parseFloat(def), usage)
	default:
		panic(fmt.Sprintf("cfgstruct.Bind: unsupported field kind %s for flag %q", fieldVal.Kind(), flagName))
	}
}

func substituteConfDir(def, dir string) string {
	def = strings.ReplaceAll(def, "${CONFDIR}", dir)
	def = strings.ReplaceAll(def, "$CONFDIR", dir)
	return def
}

func parseInt(s string) int {
	var n int
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

func parseFloat(s string) float64 {
	var n float64
	_, _ = fmt.Sscanf(s, "%g", &n)
	return n
}

// kebabCase converts an exported Go field name like "MyStruct1" into
// its flag-name form "my-struct1": a hyphen is inserted before an
// uppercase letter that follows a lowercase letter or digit.
func kebabCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteRune('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
