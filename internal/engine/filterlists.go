package engine

// Curated domain lists backing the block_ads, block_trackers and
// block_cookie_banners switches. These are deliberately small: the goal
// is killing the noisiest third parties that delay network idle and
// paint over the page, not full content blocking.

var adDomains = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"adservice.google.com",
	"adnxs.com",
	"adsrvr.org",
	"criteo.com",
	"criteo.net",
	"pubmatic.com",
	"rubiconproject.com",
	"openx.net",
	"taboola.com",
	"outbrain.com",
	"amazon-adsystem.com",
	"moatads.com",
	"adform.net",
	"smartadserver.com",
	"yieldmo.com",
	"media.net",
	"33across.com",
}

var trackerDomains = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"analytics.google.com",
	"connect.facebook.net",
	"facebook.com",
	"segment.io",
	"segment.com",
	"mixpanel.com",
	"amplitude.com",
	"hotjar.com",
	"fullstory.com",
	"mouseflow.com",
	"clarity.ms",
	"quantserve.com",
	"scorecardresearch.com",
	"newrelic.com",
	"nr-data.net",
	"bugsnag.com",
	"sentry.io",
	"matomo.cloud",
	"plausible.io",
	"heapanalytics.com",
	"kissmetrics.com",
	"crazyegg.com",
	"branch.io",
	"appsflyer.com",
	"adjust.com",
	"braze.com",
	"intercom.io",
	"intercomcdn.com",
}

var cookieBannerDomains = []string{
	"cookielaw.org",
	"onetrust.com",
	"cdn.cookielaw.org",
	"cookiebot.com",
	"consent.cookiebot.com",
	"consensu.org",
	"usercentrics.eu",
	"usercentrics.com",
	"trustarc.com",
	"truste.com",
	"quantcast.com",
	"cmp.quantcast.com",
	"didomi.io",
	"privacy-center.org",
	"sourcepoint.com",
	"sp-prod.net",
	"osano.com",
	"termly.io",
	"iubenda.com",
	"cookieyes.com",
	"cookie-script.com",
	"civiccomputing.com",
	"cookiefirst.com",
}
