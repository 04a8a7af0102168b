// Comfychat connects a chat frontend to a remote ComfyUI server. It turns a
// message's text into a queued generation job, follows the job over ComfyUI's
// websocket push channel, and keeps a bounded history of results so that
// images can be restored into the conversation after a reload.
package comfychat
