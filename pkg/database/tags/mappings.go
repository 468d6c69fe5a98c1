// Zaparoo Curator
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Curator.
//
// Zaparoo Curator is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Curator is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Curator.  If not, see <http://www.gnu.org/licenses/>.

package tags

// regionCodes maps case folded No-Intro region names and Logiqx release
// region codes to canonical codes.
var regionCodes = map[string]string{
	// No-Intro style regions (full names)
	"world":       "WOR",
	"europe":      "EUR",
	"asia":        "ASI",
	"australia":   "AUS",
	"brazil":      "BRA",
	"canada":      "CAN",
	"china":       "CHN",
	"denmark":     "DAN",
	"finland":     "FYN",
	"france":      "FRA",
	"germany":     "GER",
	"greece":      "GRE",
	"hong kong":   "HK",
	"italy":       "ITA",
	"japan":       "JPN",
	"korea":       "KOR",
	"netherlands": "NED",
	"norway":      "NOR",
	"poland":      "POL",
	"portugal":    "POR",
	"russia":      "RUS",
	"scandinavia": "SCA",
	"spain":       "SPA",
	"sweden":      "SWE",
	"taiwan":      "TAI",
	"uk":          "UK",
	"usa":         "USA",
	"unknown":     "UNK",

	// Logiqx release codes
	"wor": "WOR",
	"eur": "EUR",
	"asi": "ASI",
	"aus": "AUS",
	"bra": "BRA",
	"can": "CAN",
	"chn": "CHN",
	"dan": "DAN",
	"fyn": "FYN",
	"fra": "FRA",
	"ger": "GER",
	"gre": "GRE",
	"hk":  "HK",
	"ita": "ITA",
	"jpn": "JPN",
	"kor": "KOR",
	"ned": "NED",
	"nor": "NOR",
	"pol": "POL",
	"por": "POR",
	"rus": "RUS",
	"sca": "SCA",
	"spa": "SPA",
	"swe": "SWE",
	"tai": "TAI",
	"unk": "UNK",
}

// countryCodes maps TOSEC two letter country codes.
var countryCodes = map[string]string{
	"AU": "AUS",
	"BR": "BRA",
	"CA": "CAN",
	"CN": "CHN",
	"DE": "GER",
	"DK": "DAN",
	"ES": "SPA",
	"EU": "EUR",
	"FI": "FYN",
	"FR": "FRA",
	"GB": "UK",
	"GR": "GRE",
	"HK": "HK",
	"IT": "ITA",
	"JP": "JPN",
	"KR": "KOR",
	"NL": "NED",
	"NO": "NOR",
	"PL": "POL",
	"PT": "POR",
	"RU": "RUS",
	"SE": "SWE",
	"TW": "TAI",
	"US": "USA",
}

// regionLanguages is the predominant language of a region. Multilingual
// regions (Europe, World, Asia, Hong Kong, Scandinavia) have no entry.
var regionLanguages = map[string]string{
	"AUS": "en",
	"BRA": "pt",
	"CAN": "en",
	"CHN": "zh",
	"DAN": "da",
	"FYN": "fi",
	"FRA": "fr",
	"GER": "de",
	"GRE": "el",
	"ITA": "it",
	"JPN": "ja",
	"KOR": "ko",
	"NED": "nl",
	"NOR": "no",
	"POL": "pl",
	"POR": "pt",
	"RUS": "ru",
	"SPA": "es",
	"SWE": "sv",
	"TAI": "zh",
	"UK":  "en",
	"USA": "en",
}

// languageCodes maps No-Intro language codes and TOSEC three letter codes to
// ISO 639-1.
var languageCodes = map[string]string{
	"ar": "ar", "ca": "ca", "cs": "cs", "da": "da", "de": "de",
	"el": "el", "en": "en", "es": "es", "fi": "fi", "fr": "fr",
	"he": "he", "hu": "hu", "it": "it", "ja": "ja", "ko": "ko",
	"nl": "nl", "no": "no", "pl": "pl", "pt": "pt", "ru": "ru",
	"sv": "sv", "tr": "tr", "zh": "zh",

	"eng": "en", "ger": "de", "fre": "fr", "spa": "es", "ita": "it",
	"rus": "ru", "por": "pt", "dut": "nl", "swe": "sv", "nor": "no",
	"fin": "fi", "dan": "da", "pol": "pl", "cze": "cs", "gre": "el",
	"hun": "hu", "tur": "tr", "ara": "ar", "heb": "he", "jpn": "ja",
	"kor": "ko", "chi": "zh",
}

// flagNames maps case folded status tags to flags.
var flagNames = map[string]Flag{
	"aftermarket": FlagAftermarket,
	"homebrew":    FlagAftermarket,
	"unl":         FlagUnlicensed,
	"unlicensed":  FlagUnlicensed,
	"sample":      FlagSample,
	"beta":        FlagBeta,
	"preview":     FlagBeta,
	"demo":        FlagDemo,
	"kiosk":       FlagDemo,
	"proto":       FlagPrototype,
	"prototype":   FlagPrototype,
	"pirate":      FlagPirate,
}
