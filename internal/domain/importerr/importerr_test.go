package importerr_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/okian/realmhist/internal/domain/importerr"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWrap(t *testing.T) {
	Convey("Given a wrapped cause", t, func() {
		cause := errors.New("bad byte")
		err := importerr.Wrap("parse snapshot", importerr.DataFormat, cause)

		Convey("Then it matches its sentinel and unwraps to the cause", func() {
			So(errors.Is(err, importerr.ErrDataFormat), ShouldBeTrue)
			So(errors.Is(err, importerr.ErrDataValidation), ShouldBeFalse)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "parse snapshot: bad byte")
		})

		Convey("Then the category survives further wrapping", func() {
			outer := fmt.Errorf("import r1: %w", err)
			So(importerr.Classify(outer), ShouldEqual, importerr.DataFormat)
			So(importerr.Message(outer), ShouldStartWith, "data_format: ")
		})

		Convey("Then wrapping nil yields nil", func() {
			So(importerr.Wrap("op", importerr.Unknown, nil), ShouldBeNil)
			So(importerr.Classify(nil), ShouldEqual, importerr.Category(""))
		})
	})
}

func TestClassify(t *testing.T) {
	Convey("Given uncategorized errors", t, func() {
		_, statErr := os.Stat("/definitely/not/here")

		cases := []struct {
			err  error
			want importerr.Category
		}{
			{context.DeadlineExceeded, importerr.Timeout},
			{fmt.Errorf("apply: %w", context.Canceled), importerr.Timeout},
			{statErr, importerr.FileAccess},
			{errors.New("runtime: out of memory"), importerr.Memory},
			{errors.New("UNIQUE constraint failed: tiles.realm_id"), importerr.DatabaseUpdate},
			{errors.New("database is locked"), importerr.DatabaseTransaction},
			{errors.New("unable to open database file"), importerr.DatabaseConnection},
			{errors.New("something odd"), importerr.Unknown},
		}
		for _, c := range cases {
			So(importerr.Classify(c.err), ShouldEqual, c.want)
		}

		Convey("And a joined rollback failure keeps the explicit category", func() {
			joined := importerr.Wrap("rollback", importerr.DatabaseTransaction,
				errors.Join(errors.New("write failed"), errors.New("rollback failed")))
			So(errors.Is(joined, importerr.ErrDatabaseTransaction), ShouldBeTrue)
		})
	})
}
