// Package notify delivers the messages credcore sends out of band:
// verification links, reset links and one-time codes.
//
// Bodies are HTML templates rendered with html/template. The default set is
// embedded; a deployment can supply its own fs.FS with the same file names.
// Templates are loaded on first use through a TemplateCache that the
// process creates once and hands to each notifier.
package notify
