// Package webhook serves HMAC-verified inbound hooks that dispatch actions.
//
// Each configured endpoint is reachable at POST /webhook/{name} on the
// gateway. A hook carries no bearer token; the request is authenticated by
// an HMAC-SHA256 signature over the raw body, compared in constant time.
//
// Request flow:
//
//  1. Unknown name: 404
//  2. Body larger than max_body_size: 413
//  3. Missing or wrong signature: 403 with no detail
//  4. The configured action is dispatched with params
//     {"webhook": <name>, "payload": <body>}. A JSON body is passed as a
//     structured value, anything else as a string.
//  5. 200 with the dispatch envelope and an X-Dispatch-ID header
//
// Configuration:
//
//	webhooks:
//	  endpoints:
//	    - name: github
//	      action: audit_repo
//	      target: switchboard
//	      secret: ${GITHUB_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 1MB
package webhook
