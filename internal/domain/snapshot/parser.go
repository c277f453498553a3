package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/okian/realmhist/internal/domain/importerr"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

const (
	defaultMapSize       = 1000
	defaultMaxNameLength = 64
	maxReportedViolation = 5
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser decodes snapshot payloads. It is safe for concurrent use.
type Parser struct {
	width         int
	height        int
	maxNameLength int
	validate      *validator.Validate
	log           logger.Logger
}

type fallback struct {
	name    string
	decoder encoding.Encoding
}

// fallbacks is the fixed order of legacy decodings tried on invalid UTF-8.
var fallbacks = []fallback{
	{EncodingWindows1252, charmap.Windows1252},
	{EncodingLatin1, charmap.ISO8859_1},
	{EncodingUTF8Replace, unicode.UTF8},
}

// NewParser creates a parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		width:         defaultMapSize,
		height:        defaultMapSize,
		maxNameLength: defaultMaxNameLength,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Get().Named("snapshot")
	}
	p.validate = p.newValidator()
	return p
}

func (p *Parser) newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails on empty tags or nil funcs
	_ = v.RegisterValidation("mapx", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() < int64(p.width)
	})
	_ = v.RegisterValidation("mapy", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() < int64(p.height)
	})
	_ = v.RegisterValidation("namelen", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= p.maxNameLength
	})
	return v
}

// Parse reads r to the end and decodes it. The caller bounds r.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, importerr.Wrap("read snapshot", importerr.Timeout, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, importerr.Wrap("read snapshot", importerr.FileAccess, err)
	}
	return p.ParseBytes(ctx, data)
}

// ParseBytes decodes a complete payload.
//
// Valid UTF-8 is decoded directly. Otherwise each legacy encoding is tried
// in order and the first one that yields a well-formed document is used.
// Field constraint violations fail with a data format error.
func (p *Parser) ParseBytes(ctx context.Context, data []byte) (*Snapshot, error) {
	size := len(data)
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, importerr.New("parse snapshot", importerr.DataFormat, "empty snapshot")
	}

	var (
		doc       *document
		used      string
		decodeErr error
	)
	if utf8.Valid(data) {
		doc, decodeErr = decode(data)
		used = EncodingUTF8
	} else {
		p.log.Warn(ctx, "snapshot is not valid utf-8, trying legacy encodings")
		for _, fb := range fallbacks {
			if err := ctx.Err(); err != nil {
				return nil, importerr.Wrap("parse snapshot", importerr.Timeout, err)
			}
			text, _, err := transform.Bytes(fb.decoder.NewDecoder(), data)
			if err != nil {
				decodeErr = fmt.Errorf("%s: %w", fb.name, err)
				continue
			}
			if doc, err = decode(text); err != nil {
				decodeErr = fmt.Errorf("%s: %w", fb.name, err)
				continue
			}
			used = fb.name
			decodeErr = nil
			metrics.RecordEncodingFallback(fb.name)
			p.log.Warn(ctx, "snapshot decoded with fallback encoding", logger.String("encoding", fb.name))
			break
		}
	}
	if decodeErr != nil {
		return nil, importerr.Wrap("parse snapshot", importerr.DataFormat, decodeErr)
	}

	if err := p.validate.Struct(doc); err != nil {
		return nil, importerr.Wrap("validate snapshot", importerr.DataFormat, describe(err))
	}

	s := doc.toSnapshot()
	s.Encoding = used
	s.Size = size
	metrics.RecordSnapshotBytes(size)
	p.log.Debug(ctx, "snapshot parsed",
		logger.String("encoding", used),
		logger.Int("tiles", len(s.Tiles)),
		logger.Int("players", len(s.Players)),
		logger.Int("alliances", len(s.Alliances)),
		logger.Int("alliance_bases", len(s.AllianceBases)),
	)
	return s, nil
}

func decode(data []byte) (*document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("snapshot must be a JSON object")
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// describe condenses validator output to a few readable violations.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, maxReportedViolation)
	for i, fe := range verrs {
		if i == maxReportedViolation {
			parts = append(parts, fmt.Sprintf("and %d more", len(verrs)-i))
			break
		}
		field := strings.TrimPrefix(fe.Namespace(), "document.")
		parts = append(parts, fmt.Sprintf("%s=%v violates %s", field, fe.Value(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
