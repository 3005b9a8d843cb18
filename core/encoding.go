// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import "strings"

// KnownEncoding is the registered part of an Encoding.
type KnownEncoding uint8

const (
	Empty KnownEncoding = iota
	AppOctetStream
	AppCustom
	TextPlain
	AppProperties
	AppJSON
	AppSQL
	AppInteger
	AppFloat
	AppXML
	AppXHTMLXML
	AppXWWWFormURLEncoded
	TextJSON
	TextHTML
	TextXML
	TextCSS
	TextCSV
	TextJavascript
	ImageJPEG
	ImagePNG
	ImageGIF
)

var knownEncodings = [...]string{
	Empty:                 "",
	AppOctetStream:        "application/octet-stream",
	AppCustom:             "application/custom",
	TextPlain:             "text/plain",
	AppProperties:         "application/properties",
	AppJSON:               "application/json",
	AppSQL:                "application/sql",
	AppInteger:            "application/integer",
	AppFloat:              "application/float",
	AppXML:                "application/xml",
	AppXHTMLXML:           "application/xhtml+xml",
	AppXWWWFormURLEncoded: "application/x-www-form-urlencoded",
	TextJSON:              "text/json",
	TextHTML:              "text/html",
	TextXML:               "text/xml",
	TextCSS:               "text/css",
	TextCSV:               "text/csv",
	TextJavascript:        "text/javascript",
	ImageJPEG:             "image/jpeg",
	ImagePNG:              "image/png",
	ImageGIF:              "image/gif",
}

func (k KnownEncoding) String() string {
	if int(k) < len(knownEncodings) {
		return knownEncodings[k]
	}
	return ""
}

// Encoding describes how a payload is to be interpreted: a known prefix and a
// free-form suffix (e.g. "text/plain;charset=utf-8" is TextPlain + ";charset=utf-8").
type Encoding struct {
	Prefix KnownEncoding
	Suffix string
}

// DefaultEncoding is the encoding a Value gets when none is given.
var DefaultEncoding = Encoding{Prefix: Empty}

// NewEncoding returns an encoding with a known prefix and no suffix.
func NewEncoding(prefix KnownEncoding) Encoding {
	return Encoding{Prefix: prefix}
}

// WithSuffix returns a copy of e with the given suffix.
func (e Encoding) WithSuffix(suffix string) Encoding {
	e.Suffix = suffix
	return e
}

// IsDefault reports whether e equals DefaultEncoding.
func (e Encoding) IsDefault() bool {
	return e == DefaultEncoding
}

func (e Encoding) String() string {
	return e.Prefix.String() + e.Suffix
}

// ParseEncoding maps a textual encoding onto the longest matching known prefix;
// the remainder becomes the suffix.
func ParseEncoding(s string) Encoding {
	best := Empty
	bestLen := 0
	for i, name := range knownEncodings {
		if len(name) > bestLen && strings.HasPrefix(s, name) {
			best = KnownEncoding(i)
			bestLen = len(name)
		}
	}
	return Encoding{Prefix: best, Suffix: s[bestLen:]}
}
