// Copyright 2026 Conductor OSS
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package transmute

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format is a normalized, lowercase file format token without a leading dot.
type Format string

// FormatUnknown is the distinguished "could not tell" format. It is never a
// valid side of a capability.
const FormatUnknown Format = "unknown"

const (
	FormatATOM  Format = "atom"
	FormatBMP   Format = "bmp"
	FormatCSV   Format = "csv"
	FormatDOCX  Format = "docx"
	FormatEPUB  Format = "epub"
	FormatGIF   Format = "gif"
	FormatHTML  Format = "html"
	FormatIPYNB Format = "ipynb"
	FormatJPG   Format = "jpg"
	FormatJSON  Format = "json"
	FormatMD    Format = "md"
	FormatMP3   Format = "mp3"
	FormatMP4   Format = "mp4"
	FormatPDF   Format = "pdf"
	FormatPNG   Format = "png"
	FormatPPTX  Format = "pptx"
	FormatRSS   Format = "rss"
	FormatSVG   Format = "svg"
	FormatTIFF  Format = "tiff"
	FormatTXT   Format = "txt"
	FormatWAV   Format = "wav"
	FormatWEBP  Format = "webp"
	FormatXLS   Format = "xls"
	FormatXLSX  Format = "xlsx"
	FormatXML   Format = "xml"
	FormatYAML  Format = "yaml"
	FormatZIP   Format = "zip"
)

var formatAliases = map[string]Format{
	"jpeg":     FormatJPG,
	"htm":      FormatHTML,
	"xhtml":    FormatHTML,
	"markdown": FormatMD,
	"yml":      FormatYAML,
	"text":     FormatTXT,
	"tif":      FormatTIFF,
}

// knownExtensions maps file extensions to formats. Extensions missing here
// fall through to content sniffing.
var knownExtensions = map[string]Format{
	"atom":  FormatATOM,
	"bmp":   FormatBMP,
	"csv":   FormatCSV,
	"docx":  FormatDOCX,
	"epub":  FormatEPUB,
	"gif":   FormatGIF,
	"html":  FormatHTML,
	"ipynb": FormatIPYNB,
	"jpg":   FormatJPG,
	"json":  FormatJSON,
	"md":    FormatMD,
	"mp3":   FormatMP3,
	"mp4":   FormatMP4,
	"pdf":   FormatPDF,
	"png":   FormatPNG,
	"pptx":  FormatPPTX,
	"rss":   FormatRSS,
	"svg":   FormatSVG,
	"tiff":  FormatTIFF,
	"txt":   FormatTXT,
	"wav":   FormatWAV,
	"webp":  FormatWEBP,
	"xls":   FormatXLS,
	"xlsx":  FormatXLSX,
	"xml":   FormatXML,
	"yaml":  FormatYAML,
	"zip":   FormatZIP,
}

// sniffedFormats maps detected MIME types to formats. Order matters: the
// most specific types come first because detection walks up the MIME
// hierarchy (xlsx -> zip, rss -> xml, ...).
var sniffedFormats = []struct {
	mime   string
	format Format
}{
	{"application/pdf", FormatPDF},
	{"image/png", FormatPNG},
	{"image/jpeg", FormatJPG},
	{"image/gif", FormatGIF},
	{"image/webp", FormatWEBP},
	{"image/bmp", FormatBMP},
	{"image/tiff", FormatTIFF},
	{"image/svg+xml", FormatSVG},
	{"audio/mpeg", FormatMP3},
	{"audio/wav", FormatWAV},
	{"video/mp4", FormatMP4},
	{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", FormatXLSX},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", FormatDOCX},
	{"application/vnd.openxmlformats-officedocument.presentationml.presentation", FormatPPTX},
	{"application/vnd.ms-excel", FormatXLS},
	{"application/epub+zip", FormatEPUB},
	{"application/zip", FormatZIP},
	{"application/rss+xml", FormatRSS},
	{"application/atom+xml", FormatATOM},
	{"text/html", FormatHTML},
	{"text/xml", FormatXML},
	{"application/json", FormatJSON},
	{"text/csv", FormatCSV},
	{"text/plain", FormatTXT},
}

// NormalizeFormat lowercases s, strips whitespace and a leading dot and maps
// common aliases. The empty string yields FormatUnknown.
func NormalizeFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, ".")
	if s == "" || s == string(FormatUnknown) {
		return FormatUnknown
	}
	if f, ok := formatAliases[s]; ok {
		return f
	}
	return Format(s)
}

// Known reports whether f names a real format.
func (f Format) Known() bool {
	return f != "" && f != FormatUnknown
}

func (f Format) String() string {
	if f == "" {
		return string(FormatUnknown)
	}
	return string(f)
}

// FormatFromPath derives a format from the file extension. Extensions
// outside the known table yield FormatUnknown.
func FormatFromPath(path string) Format {
	ext := NormalizeFormat(filepath.Ext(path))
	if !ext.Known() {
		return FormatUnknown
	}
	if f, ok := knownExtensions[string(ext)]; ok {
		return f
	}
	return FormatUnknown
}

// DetectFormat resolves the format of the file at path, reading from r when
// the extension is missing or unknown. r is rewound before returning.
// An inconclusive result is an ambiguous-format error.
func DetectFormat(r io.ReadSeeker, path string) (Format, error) {
	if f := FormatFromPath(path); f.Known() {
		return f, nil
	}

	f, err := sniffFormat(r)
	if _, serr := r.Seek(0, io.SeekStart); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return FormatUnknown, ioFailure("detect", err)
	}
	if !f.Known() {
		return FormatUnknown, ambiguousFormat(path)
	}
	return f, nil
}

func sniffFormat(r io.ReadSeeker) (Format, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, err
	}
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	if n == 0 {
		return FormatUnknown, nil
	}
	return formatFromMIME(mimetype.Detect(head[:n])), nil
}

func formatFromMIME(mt *mimetype.MIME) Format {
	for m := mt; m != nil; m = m.Parent() {
		for _, s := range sniffedFormats {
			if m.Is(s.mime) {
				return s.format
			}
		}
	}
	return FormatUnknown
}
