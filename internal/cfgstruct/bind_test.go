package cfgstruct_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/infdserver/internal/cfgstruct"
)

func TestBindLeafKindsAndDefaults(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var c struct {
		String   string        `default:""`
		Bool     bool          `default:"false"`
		Int64    int64         `default:"0"`
		Int      int           `default:"0"`
		Uint64   uint64        `default:"0"`
		Uint     uint          `default:"0"`
		Float64  float64       `default:"0"`
		Duration time.Duration `default:"0"`
		Struct   struct {
			AnotherString string `default:""`
		}
		Fields [10]struct {
			AnotherInt int `default:"0"`
		}
	}
	cfgstruct.Bind(f, &c)

	assert.Equal(t, "", c.String)
	assert.Equal(t, false, c.Bool)
	assert.Equal(t, int64(0), c.Int64)
	assert.Equal(t, 0, c.Int)
	assert.Equal(t, uint64(0), c.Uint64)
	assert.Equal(t, uint(0), c.Uint)
	assert.Equal(t, float64(0), c.Float64)
	assert.Equal(t, time.Duration(0), c.Duration)

	err := f.Parse([]string{
		"--string=1",
		"--bool=true",
		"--int64=1",
		"--int=1",
		"--uint64=1",
		"--uint=1",
		"--float64=1",
		"--duration=1h",
		"--struct.another-string=1",
		"--fields.03.another-int=1",
	})
	require.NoError(t, err)

	assert.Equal(t, "1", c.String)
	assert.Equal(t, true, c.Bool)
	assert.Equal(t, int64(1), c.Int64)
	assert.Equal(t, 1, c.Int)
	assert.Equal(t, uint64(1), c.Uint64)
	assert.Equal(t, uint(1), c.Uint)
	assert.Equal(t, float64(1), c.Float64)
	assert.Equal(t, time.Hour, c.Duration)
	assert.Equal(t, "1", c.Struct.AnotherString)
	assert.Equal(t, 0, c.Fields[0].AnotherInt)
	assert.Equal(t, 1, c.Fields[3].AnotherInt)
}

func TestConfDirSubstitutesEverywhereUnchanged(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var c struct {
		String    string `default:"-$CONFDIR+"`
		MyStruct1 struct {
			String    string `default:"1${CONFDIR}2"`
			MyStruct2 struct {
				String string `default:"2${CONFDIR}3"`
			}
		}
	}
	cfgstruct.Bind(f, &c, cfgstruct.ConfDir("confpath"))

	assert.Equal(t, "-confpath+", f.Lookup("string").DefValue)
	assert.Equal(t, "1confpath2", f.Lookup("my-struct1.string").DefValue)
	assert.Equal(t, "2confpath3", f.Lookup("my-struct1.my-struct2.string").DefValue)
}

func TestConfDirNestedAppendsFieldPath(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var c struct {
		String    string `default:"-$CONFDIR+"`
		MyStruct1 struct {
			String    string `default:"1${CONFDIR}2"`
			MyStruct2 struct {
				String string `default:"2${CONFDIR}3"`
			}
		}
	}
	cfgstruct.Bind(f, &c, cfgstruct.ConfDirNested("confpath"))

	assert.Equal(t, "-confpath+", f.Lookup("string").DefValue)
	assert.Equal(t, filepath.FromSlash("1confpath/my-struct12"), f.Lookup("my-struct1.string").DefValue)
	assert.Equal(t, filepath.FromSlash("2confpath/my-struct1/my-struct23"), f.Lookup("my-struct1.my-struct2.string").DefValue)
}
