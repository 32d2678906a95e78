package types

import (
	"time"
)

type Comment struct {
	Id           string    `json:"id"`
	TweetId      string    `json:"tweetId"`
	UserId       string    `json:"userId"`
	Username     string    `json:"username"`
	ProfileImage string    `json:"profileImage"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
}
