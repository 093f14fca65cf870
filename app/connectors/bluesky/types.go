package bluesky

import "encoding/json"

// AppView XRPC response types (private - only the fields this connector reads)

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type profileResponse struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	PostsCount  *int   `json:"postsCount"`
}

type authorFeedResponse struct {
	Feed   []feedViewPost `json:"feed"`
	Cursor string         `json:"cursor"`
}

type feedViewPost struct {
	Post   postView        `json:"post"`
	Reason json.RawMessage `json:"reason"`
}

type postsResponse struct {
	Posts []postView `json:"posts"`
}

type postView struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
		Reply     *struct {
			Parent struct {
				URI string `json:"uri"`
			} `json:"parent"`
		} `json:"reply"`
	} `json:"record"`
	Embed       *embedView `json:"embed"`
	LikeCount   int        `json:"likeCount"`
	RepostCount int        `json:"repostCount"`
	ReplyCount  int        `json:"replyCount"`
}

type embedView struct {
	Type   string `json:"$type"`
	Images []struct {
		Fullsize string `json:"fullsize"`
	} `json:"images"`
	External *struct {
		URI string `json:"uri"`
	} `json:"external"`
	Record *struct {
		URI string `json:"uri"`
	} `json:"record"`
	Media *embedView `json:"media"`
}
