package session

import (
	"net/http"
	"strconv"
)

const (
	indexPath = "tracker.php"
	entryPath = "viewtopic.php"
)

// IndexRequest builds the tracker search POST listing the newest entries,
// optionally restricted to one forum.
func IndexRequest(forumID int64) Request {
	form := map[string]string{
		"prev_new": "0",
		"prev_oop": "0",
		"f[]":      "-1",
		"o":        "1",
		"s":        "2",
		"tm":       "-1",
		"oop":      "1",
	}
	path := indexPath
	if forumID > 0 {
		id := strconv.FormatInt(forumID, 10)
		path += "?f=" + id
		form["f[]"] = id
	}
	return Request{Path: path, Method: http.MethodPost, Form: form}
}

// EntryRequest builds the GET for an entry detail page.
func EntryRequest(id int64) Request {
	return Request{Path: EntryPath(id), Method: http.MethodGet}
}

// EntryPath is the detail page path relative to the tracker base URL.
func EntryPath(id int64) string {
	return entryPath + "?t=" + strconv.FormatInt(id, 10)
}
