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
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/pkg/errors"

	"github.com/grafana/browser-session/api"
	"github.com/grafana/browser-session/cdp"
	"github.com/grafana/browser-session/log"
)

// Screenshotter captures the viewport of a page.
// Commands are executed with the cdp.Executor carried by the context.
type Screenshotter struct {
	format   api.ScreenshotFormat
	quality  int64
	viewport api.Viewport
	logger   *log.Logger
}

// NewScreenshotter returns a screenshotter capturing viewport sized images
// in format.
func NewScreenshotter(format api.ScreenshotFormat, quality int64, viewport api.Viewport, logger *log.Logger) *Screenshotter {
	return &Screenshotter{
		format:   format,
		quality:  quality,
		viewport: viewport,
		logger:   logger,
	}
}

// Capture returns the encoded image of the visible part of the page.
//
// Browsers without a rendering engine answer the capture command with
// "method not found". For them a blank viewport sized PNG is returned, so
// that every action still has an image to show.
func (s *Screenshotter) Capture(ctx context.Context) ([]byte, error) {
	clip, err := s.visibleClip(ctx)
	if cdp.IsMethodNotFound(err) {
		return s.placeholder()
	}
	if err != nil {
		return nil, err
	}

	capture := cdppage.CaptureScreenshot().WithClip(clip)
	switch s.format {
	case api.ScreenshotFormatJPEG:
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatJpeg).WithQuality(s.quality)
	case api.ScreenshotFormatWebP:
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatWebp).WithQuality(s.quality)
	default:
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatPng)
	}

	buf, err := capture.Do(ctx)
	switch {
	case cdp.IsMethodNotFound(err):
		return s.placeholder()
	case err != nil:
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	case len(buf) == 0:
		return nil, errors.New("capturing screenshot: browser returned an empty image")
	}

	return buf, nil
}

// visibleClip returns the document area currently shown in the viewport.
func (s *Screenshotter) visibleClip(ctx context.Context) (*cdppage.Viewport, error) {
	_, _, _, _, visualViewport, _, err := cdppage.GetLayoutMetrics().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting layout metrics for screenshot: %w", err)
	}

	clip := &cdppage.Viewport{
		Width:  float64(s.viewport.Width),
		Height: float64(s.viewport.Height),
		Scale:  1,
	}
	if visualViewport != nil {
		clip.X, clip.Y = visualViewport.PageX, visualViewport.PageY
		if visualViewport.ClientWidth > 0 && visualViewport.ClientHeight > 0 {
			clip.Width, clip.Height = visualViewport.ClientWidth, visualViewport.ClientHeight
		}
	}

	return trimClipToSize(clip, s.viewport)
}

func (s *Screenshotter) placeholder() ([]byte, error) {
	s.logger.Debugf("Screenshotter:Capture", "capture unsupported, using a blank %dx%d placeholder",
		s.viewport.Width, s.viewport.Height)
	return PlaceholderImage(s.viewport)
}

// PlaceholderImage returns a white PNG of the viewport size.
func PlaceholderImage(viewport api.Viewport) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, int(viewport.Width), int(viewport.Height)))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encoding placeholder image")
	}
	return buf.Bytes(), nil
}

// trimClipToSize keeps the clip within the size of the viewport. The clip
// keeps its document offset.
func trimClipToSize(clip *cdppage.Viewport, size api.Viewport) (*cdppage.Viewport, error) {
	w := math.Max(0, math.Min(clip.Width, float64(size.Width)))
	h := math.Max(0, math.Min(clip.Height, float64(size.Height)))

	result := cdppage.Viewport{
		X:      math.Max(0, clip.X),
		Y:      math.Max(0, clip.Y),
		Width:  w,
		Height: h,
		Scale:  clip.Scale,
	}
	if result.Width == 0 || result.Height == 0 {
		return nil, errors.Errorf("clip area %vx%v is empty", clip.Width, clip.Height)
	}
	return &result, nil
}
