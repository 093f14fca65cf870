package farcaster

// Neynar v2 response types (private - only the fields this connector reads)

type userResponse struct {
	User *user `json:"user"`
}

type bulkUsersResponse struct {
	Users []user `json:"users"`
}

type user struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Profile     struct {
		Bio struct {
			Text string `json:"text"`
		} `json:"bio"`
	} `json:"profile"`
}

type castsResponse struct {
	Casts []cast `json:"casts"`
	Next  *struct {
		Cursor *string `json:"cursor"`
	} `json:"next"`
}

type castResponse struct {
	Cast *cast `json:"cast"`
}

type cast struct {
	Hash       string  `json:"hash"`
	ParentHash *string `json:"parent_hash"`
	Author     struct {
		FID      int64  `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Embeds    []struct {
		URL  string `json:"url"`
		Cast *struct {
			Hash string `json:"hash"`
		} `json:"cast"`
	} `json:"embeds"`
	Reactions struct {
		LikesCount   int `json:"likes_count"`
		RecastsCount int `json:"recasts_count"`
	} `json:"reactions"`
	Replies struct {
		Count int `json:"count"`
	} `json:"replies"`
}
