package migrations

import (
	"io/fs"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMigrationsEmbedded(t *testing.T) {
	Convey("Given the embedded migrations", t, func() {
		for _, root := range []string{World, Sessions} {
			entries, err := fs.ReadDir(FS, root)
			So(err, ShouldBeNil)
			So(len(entries), ShouldBeGreaterThan, 0)
			So(entries[0].Name(), ShouldStartWith, "001_")
		}
	})
}
