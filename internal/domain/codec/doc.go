// Package codec maps real hostnames to synthetic localhost subdomains and back.
//
// A real host such as lofi.jingle.avp.vercel.app is served by the proxy as
// lofi-jingle-avp--vercel-app.localhost:3000. The last two labels form the
// domain part, the leading labels form the site part, and "--" separates the
// two. Inside each part, label dots become dashes.
//
// Decoding restores dots only in the domain part; the site part keeps its
// dashes, so lofi-jingle-avp--vercel-app decodes to lofi-jingle-avp.vercel.app.
// Hostnames whose labels already contain "-" cannot be reconstructed exactly.
// The mapping is exact for hosts with at most three labels and no dashes,
// e.g. app.example.com <-> app--example-com.
package codec
