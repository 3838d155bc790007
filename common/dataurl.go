/*
 *
 * browser-session - a headless browser session orchestrator
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/oxtoacart/bpool"
	"github.com/pkg/errors"
)

const dataURLPoolSize = 4

//nolint:gochecknoglobals
var dataURLBuffers = bpool.NewBufferPool(dataURLPoolSize)

// DataURL encodes an image as a base64 data URL. The MIME type is sniffed
// from the image bytes so that it always matches the encoding, and
// fallbackMIME is only used when sniffing fails.
func DataURL(img []byte, fallbackMIME string) (string, error) {
	if len(img) == 0 {
		return "", errors.New("encoding data URL: empty image")
	}

	mime := http.DetectContentType(img)
	if !strings.HasPrefix(mime, "image/") {
		mime = fallbackMIME
	}

	buf := dataURLBuffers.Get()
	defer dataURLBuffers.Put(buf)

	buf.Grow(len("data:;base64,") + len(mime) + base64.StdEncoding.EncodedLen(len(img)))
	buf.WriteString("data:")
	buf.WriteString(mime)
	buf.WriteString(";base64,")
	enc := base64.NewEncoder(base64.StdEncoding, buf)
	if _, err := enc.Write(img); err != nil {
		return "", errors.Wrap(err, "encoding data URL")
	}
	if err := enc.Close(); err != nil {
		return "", errors.Wrap(err, "encoding data URL")
	}

	return buf.String(), nil
}
