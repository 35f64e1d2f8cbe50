/*
Package proxy serves requests addressed to synthetic hosts.

The synthetic host is decoded back to the real origin and the request is
replayed upstream as a plain GET carrying only Accept and Accept-Language.
Requests accepting text/html are treated as documents: the body is buffered,
transcoded to UTF-8, the bridge script is injected before </head> and
absolute URLs in meta content, href, src, action and srcset attributes are
pointed at their synthetic hosts. Everything else is streamed through.

When the request carries a pageId query parameter, progress events are
published to the progress hub for that page.
*/
package proxy
