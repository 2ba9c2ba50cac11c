package signals

// Maintained user-agent pattern lists. Matching is case-insensitive
// substring matching; the lists are deliberately coarse since bot authors
// rarely bother disguising these markers.

// botPatterns identify known bots, crawlers, and scripted HTTP clients.
var botPatterns = []string{
	"bot",
	"crawler",
	"spider",
	"slurp",
	"scrapy",
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"okhttp",
	"libwww",
	"httpclient",
	"facebookexternalhit",
	"mediapartners-google",
}

// headlessPatterns identify automation frameworks and headless browsers.
var headlessPatterns = []string{
	"headlesschrome",
	"headless",
	"phantomjs",
	"slimerjs",
	"selenium",
	"webdriver",
	"puppeteer",
	"playwright",
	"electron",
	"nightmare",
}
