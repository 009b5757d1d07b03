package headers

// Family groups browser profiles sharing a TLS fingerprint family
type Family string

const (
	FamilyChrome  Family = "chrome"
	FamilyFirefox Family = "firefox"
	FamilySafari  Family = "safari"
)

// Profile is the header set of one real browser build
type Profile struct {
	Name   string
	Family Family
	Base   map[string]string
	// Applied on top of Base for same-origin and cross-site navigations.
	// Empty for browsers that send no Sec-Fetch-* headers.
	SameOrigin map[string]string
	CrossSite  map[string]string
}

const (
	chromeAccept   = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	frenchLanguage = "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7"
)

var (
	Chrome120MacOS = Profile{
		Name:   "Chrome 120 macOS",
		Family: FamilyChrome,
		Base: map[string]string{
			"Accept":                    chromeAccept,
			"Accept-Encoding":           "gzip, deflate, br",
			"Accept-Language":           frenchLanguage,
			"Cache-Control":             "max-age=0",
			"Connection":                "keep-alive",
			"sec-ch-ua":                 `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			"sec-ch-ua-mobile":          "?0",
			"sec-ch-ua-platform":        `"macOS"`,
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
			"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		SameOrigin: map[string]string{"Sec-Fetch-Site": "same-origin"},
		CrossSite:  map[string]string{"Sec-Fetch-Site": "cross-site"},
	}

	Chrome120Windows = Profile{
		Name:   "Chrome 120 Windows",
		Family: FamilyChrome,
		Base: map[string]string{
			"Accept":                    chromeAccept,
			"Accept-Encoding":           "gzip, deflate, br",
			"Accept-Language":           frenchLanguage,
			"Cache-Control":             "max-age=0",
			"Connection":                "keep-alive",
			"sec-ch-ua":                 `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			"sec-ch-ua-mobile":          "?0",
			"sec-ch-ua-platform":        `"Windows"`,
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
			"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		SameOrigin: map[string]string{"Sec-Fetch-Site": "same-origin"},
		CrossSite:  map[string]string{"Sec-Fetch-Site": "cross-site"},
	}

	Chrome119MacOS = Profile{
		Name:   "Chrome 119 macOS",
		Family: FamilyChrome,
		Base: map[string]string{
			"Accept":                    chromeAccept,
			"Accept-Encoding":           "gzip, deflate, br",
			"Accept-Language":           frenchLanguage,
			"Cache-Control":             "max-age=0",
			"Connection":                "keep-alive",
			"sec-ch-ua":                 `"Google Chrome";v="119", "Chromium";v="119", "Not?A_Brand";v="24"`,
			"sec-ch-ua-mobile":          "?0",
			"sec-ch-ua-platform":        `"macOS"`,
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
			"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		},
		SameOrigin: map[string]string{"Sec-Fetch-Site": "same-origin"},
		CrossSite:  map[string]string{"Sec-Fetch-Site": "cross-site"},
	}

	// Firefox sends no client hints.
	Firefox121MacOS = Profile{
		Name:   "Firefox 121 macOS",
		Family: FamilyFirefox,
		Base: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Encoding":           "gzip, deflate, br",
			"Accept-Language":           "fr,fr-FR;q=0.8,en-US;q=0.5,en;q=0.3",
			"Connection":                "keep-alive",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
			"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
		},
		SameOrigin: map[string]string{"Sec-Fetch-Site": "same-origin"},
		CrossSite:  map[string]string{"Sec-Fetch-Site": "cross-site"},
	}

	// Safari sends neither client hints nor Sec-Fetch-*.
	Safari17MacOS = Profile{
		Name:   "Safari 17 macOS",
		Family: FamilySafari,
		Base: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"Accept-Language": "fr-FR,fr;q=0.9",
			"Connection":      "keep-alive",
			"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		},
		SameOrigin: map[string]string{},
		CrossSite:  map[string]string{},
	}

	DefaultProfiles = []Profile{Chrome120MacOS, Chrome120Windows, Chrome119MacOS, Firefox121MacOS, Safari17MacOS}
)

// Search-engine referers keyed by bare host
var Referers = map[string][]string{
	"default": {
		"https://www.google.fr/",
		"https://www.google.com/",
		"https://www.google.fr/search?q=immobilier",
		"https://www.google.fr/search?q=maison+a+vendre",
		"https://www.google.fr/search?q=appartement+particulier",
	},
	"pap.fr": {
		"https://www.google.fr/search?q=pap+immobilier",
		"https://www.google.fr/search?q=pap+particulier",
		"https://www.google.fr/",
	},
	"leboncoin.fr": {
		"https://www.google.fr/search?q=leboncoin+immobilier",
		"https://www.google.fr/search?q=leboncoin+maison",
		"https://www.google.fr/",
	},
	"paruvendu.fr": {
		"https://www.google.fr/search?q=paruvendu+immobilier",
		"https://www.google.fr/",
	},
}

// SiteURLs are the homepages used for warm-up and site-level headers
var SiteURLs = map[string]string{
	"pap":               "https://www.pap.fr/",
	"leboncoin":         "https://www.leboncoin.fr/",
	"paruvendu":         "https://www.paruvendu.fr/",
	"entreparticuliers": "https://www.entreparticuliers.com/",
	"figaro":            "https://immobilier.lefigaro.fr/",
	"moteurimmo":        "https://www.moteurimmo.fr/",
	"facebook":          "https://www.facebook.com/",
}
